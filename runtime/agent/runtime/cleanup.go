package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"goa.design/agentrun/runtime/agent/model"
)

// cleanupStore is the persistence barrier every terminal and pause path runs
// through: it stops the run timer, scrubs the record per the storage
// options, writes the response artifact when requested, and persists the run
// on its session. Persistence failures are logged, never propagated; the run
// outcome already happened.
func (ex *execution) cleanupStore(ctx context.Context) {
	ex.rec.Metrics.StopTimer()
	ex.scrub()
	ex.writeArtifact(ctx)

	if ex.session == nil {
		return
	}
	ex.session.SetState(ex.rc.SessionState)
	ex.session.UpsertRun(ex.rec)
	ex.session.RecomputeMetrics()
	if err := ex.rt.sessions.Upsert(ctx, ex.session); err != nil {
		ex.rt.logger.Error(ctx, "session persistence failed", "run_id", ex.rec.RunID, "session_id", ex.session.ID, "err", err.Error())
	}
}

// scrub applies the storage options to the record before persistence.
func (ex *execution) scrub() {
	if !ex.settings.StoreMedia && ex.rec.Input != nil {
		for _, m := range ex.rec.Input.Media {
			if m != nil {
				m.Data = nil
			}
		}
	}
	if !ex.settings.StoreToolMessages {
		for _, e := range ex.rec.Tools {
			if e != nil {
				e.Result = ""
			}
		}
		kept := ex.rec.Messages[:0]
		for _, m := range ex.rec.Messages {
			if m != nil && m.Role == model.RoleTool {
				continue
			}
			kept = append(kept, m)
		}
		ex.rec.Messages = kept
	}
	if !ex.settings.StoreHistoryMessages {
		ex.rec.Messages = nil
	}
}

// writeArtifact saves the final content to the configured path template.
func (ex *execution) writeArtifact(ctx context.Context) {
	if ex.settings.SaveResponseTo == "" || ex.rec.Content == "" {
		return
	}
	msg := ""
	if ex.rec.Input != nil {
		msg = ex.rec.Input.Message
	}
	path := ex.settings.SaveResponseTo
	for tmpl, val := range map[string]string{
		"{name}":       ex.agent.Name,
		"{session_id}": ex.rec.SessionID,
		"{user_id}":    ex.rec.UserID,
		"{message}":    msg,
		"{run_id}":     ex.rec.RunID,
	} {
		path = strings.ReplaceAll(path, tmpl, sanitizePathValue(val))
	}

	content := []byte(ex.rec.Content)
	if ex.rec.ContentType == "json" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, content, "", "  "); err == nil {
			content = buf.Bytes()
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			ex.rt.logger.Warn(ctx, "response artifact directory creation failed", "run_id", ex.rec.RunID, "path", path, "err", err.Error())
			return
		}
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		ex.rt.logger.Warn(ctx, "response artifact write failed", "run_id", ex.rec.RunID, "path", path, "err", err.Error())
	}
}

// sanitizePathValue neutralizes path separators and traversal sequences in
// substituted template values.
func sanitizePathValue(v string) string {
	v = strings.ReplaceAll(v, "..", "_")
	v = strings.ReplaceAll(v, "/", "_")
	v = strings.ReplaceAll(v, "\\", "_")
	return v
}
