// Package queue implements the priority-ordered, deduplicating execution queue.
//
// The queue keeps one FIFO band per priority. DequeueNext scans the bands
// from CRITICAL to BACKGROUND and pops the oldest entry of the first
// non-empty band. Lower bands can starve while higher bands have work;
// background sweeps only run when nothing more urgent is waiting.
//
// At most one request per (kind, project, feature) key is pending. A
// repeated enqueue either drops the new request or raises the pending
// entry to the higher priority; an upgraded entry keeps its original
// position in time inside its new band.
package queue
