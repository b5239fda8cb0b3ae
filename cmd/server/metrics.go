package main

import (
	"fmt"
	"io"

	"envgrid.ai/internal/sim/owner"
	"envgrid.ai/internal/sim/registry"
)

// writeMetrics renders the Prometheus text exposition format.
func writeMetrics(w io.Writer, rt *runtime) {
	byState := map[registry.State]int{}
	for _, s := range rt.reg.Worlds() {
		byState[s.State]++
	}
	fmt.Fprintf(w, "# HELP envgrid_worlds Live worlds by environment state.\n")
	fmt.Fprintf(w, "# TYPE envgrid_worlds gauge\n")
	for _, st := range []registry.State{registry.Uninitialized, registry.Running, registry.Interrupted, registry.Terminated} {
		fmt.Fprintf(w, "envgrid_worlds{state=%q} %d\n", st.String(), byState[st])
	}

	stats := rt.handler.Stats()
	fmt.Fprintf(w, "# HELP envgrid_sessions Open client streams.\n")
	fmt.Fprintf(w, "# TYPE envgrid_sessions gauge\n")
	fmt.Fprintf(w, "envgrid_sessions %d\n", stats.Sessions())

	fmt.Fprintf(w, "# HELP envgrid_requests_total Handled requests by kind and status code.\n")
	fmt.Fprintf(w, "# TYPE envgrid_requests_total counter\n")
	for _, rc := range stats.Requests() {
		fmt.Fprintf(w, "envgrid_requests_total{kind=%q,code=\"%d\"} %d\n", string(rc.Kind), rc.Code, rc.Count)
	}

	fmt.Fprintf(w, "# HELP envgrid_owner_queue_depth Work units waiting for the owner thread.\n")
	fmt.Fprintf(w, "# TYPE envgrid_owner_queue_depth gauge\n")
	for _, q := range []owner.Queue{owner.QueueMain, owner.QueuePostRender} {
		fmt.Fprintf(w, "envgrid_owner_queue_depth{queue=%q} %d\n", q.String(), rt.exec.Depth(q))
	}
	fmt.Fprintf(w, "# HELP envgrid_owner_ticks_total Owner thread ticks.\n")
	fmt.Fprintf(w, "# TYPE envgrid_owner_ticks_total counter\n")
	fmt.Fprintf(w, "envgrid_owner_ticks_total %d\n", rt.exec.Ticks())

	fmt.Fprintf(w, "# HELP envgrid_observer_viewers Connected observer streams.\n")
	fmt.Fprintf(w, "# TYPE envgrid_observer_viewers gauge\n")
	fmt.Fprintf(w, "envgrid_observer_viewers %d\n", rt.viewers.Viewers())

	if rt.index != nil {
		st := rt.index.Stats()
		fmt.Fprintf(w, "# HELP envgrid_index_queue_depth Pending sqlite index writes.\n")
		fmt.Fprintf(w, "# TYPE envgrid_index_queue_depth gauge\n")
		fmt.Fprintf(w, "envgrid_index_queue_depth %d\n", st.QueueDepth)
		fmt.Fprintf(w, "# HELP envgrid_index_dropped_total Index events dropped.\n")
		fmt.Fprintf(w, "# TYPE envgrid_index_dropped_total counter\n")
		fmt.Fprintf(w, "envgrid_index_dropped_total %d\n", st.Dropped)
	}
	if rt.archive != nil {
		st := rt.archive.Stats()
		fmt.Fprintf(w, "# HELP envgrid_archive_uploads_total Journal files archived by result.\n")
		fmt.Fprintf(w, "# TYPE envgrid_archive_uploads_total counter\n")
		fmt.Fprintf(w, "envgrid_archive_uploads_total{result=%q} %d\n", "ok", st.Uploaded)
		fmt.Fprintf(w, "envgrid_archive_uploads_total{result=%q} %d\n", "failed", st.Failed)
		fmt.Fprintf(w, "envgrid_archive_uploads_total{result=%q} %d\n", "dropped", st.Dropped)
	}
}
