package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies the kind of control-plane action.
type AuditEventType string

const (
	// Workspace lifecycle
	AuditWorkspaceCreate AuditEventType = "workspace_create"
	AuditWorkspaceUpdate AuditEventType = "workspace_update"
	AuditWorkspaceDelete AuditEventType = "workspace_delete"

	// Scenario lifecycle
	AuditScenarioCreate AuditEventType = "scenario_create"
	AuditScenarioUpdate AuditEventType = "scenario_update"
	AuditScenarioDelete AuditEventType = "scenario_delete"

	// Run lifecycle
	AuditRunStart    AuditEventType = "run_start"
	AuditRunComplete AuditEventType = "run_complete"
	AuditRunFail     AuditEventType = "run_fail"
	AuditRunCancel   AuditEventType = "run_cancel"

	// Batch lifecycle
	AuditBatchStart  AuditEventType = "batch_start"
	AuditBatchFinish AuditEventType = "batch_finish"
	AuditBatchCancel AuditEventType = "batch_cancel"

	// Bundle operations
	AuditBundleExport AuditEventType = "bundle_export"
	AuditBundleImport AuditEventType = "bundle_import"

	// Maintenance
	AuditRetentionPrune AuditEventType = "retention_prune"
)

// AuditEvent is one audit trail record.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	Type        AuditEventType         `json:"type"`
	WorkspaceID string                 `json:"workspace_id,omitempty"`
	ScenarioID  string                 `json:"scenario_id,omitempty"`
	RunID       string                 `json:"run_id,omitempty"`
	Detail      string                 `json:"detail,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditMu   sync.Mutex
	auditFile *os.File
	auditDir  string
)

// InitializeAudit opens the audit trail under the workspaces root. Unlike
// debug logging, the audit trail is written regardless of debug_mode.
func InitializeAudit(root string) error {
	auditMu.Lock()
	defer auditMu.Unlock()

	auditDir = filepath.Join(root, ".navigator", "audit")
	if err := os.MkdirAll(auditDir, 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	name := fmt.Sprintf("audit_%s.jsonl", time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(auditDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	auditFile = f
	return nil
}

// Audit appends one event to the trail. Safe to call before InitializeAudit;
// events are then dropped silently so callers never need to branch.
func Audit(ev AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}

// AuditRun is a shorthand for run lifecycle events.
func AuditRun(t AuditEventType, workspaceID, scenarioID, runID, detail string) {
	Audit(AuditEvent{
		Type:        t,
		WorkspaceID: workspaceID,
		ScenarioID:  scenarioID,
		RunID:       runID,
		Detail:      detail,
	})
}

// CloseAudit closes the audit trail (call at shutdown).
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}
