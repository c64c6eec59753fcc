// Package engine reconciles pending device-activation requests held in the
// remote store and carries out operator approve/reject decisions.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pikecode/licpanel/internal/giteestore"
	"github.com/pikecode/licpanel/internal/license"
	"github.com/pikecode/licpanel/pkg/types"
)

// Store is the slice of the remote store client the engine uses. Narrowed
// to an interface so tests can script store behavior.
type Store interface {
	Get(ctx context.Context, path string) ([]byte, string, error)
	List(ctx context.Context, folder string) ([]giteestore.Entry, error)
	Download(ctx context.Context, rawURL string) ([]byte, error)
	Update(ctx context.Context, path string, content []byte, sha string, message string) error
	Upsert(ctx context.Context, path string, content []byte, message string) error
}

const (
	requestsFolder  = "requests"
	responsesFolder = "responses"
	ledgerPath      = "processed_requests.json"
)

type Engine struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	window time.Duration
	actor  string

	mu        sync.Mutex
	processed map[string]struct{}
}

type Option func(*Engine)

// WithNow overrides the engine clock. Used by tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithWindow sets how far back a pending request may be timestamped and
// still be listed.
func WithWindow(window time.Duration) Option {
	return func(e *Engine) { e.window = window }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		logger:    slog.Default(),
		now:       time.Now,
		window:    24 * time.Hour,
		actor:     types.Actor,
		processed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ListPending returns the requests still awaiting operator action, newest
// first. Failures reading the folder or individual records degrade to a
// shorter (possibly empty) list; they never abort the poll.
func (e *Engine) ListPending(ctx context.Context) []types.RequestRecord {
	// Refresh the processed ledger first so resync and debug report a
	// cross-instance view. The ledger is advisory: it is never used to
	// filter the list below, because record status is the ground truth.
	e.reloadLedger(ctx)

	entries, err := e.store.List(ctx, requestsFolder)
	if err != nil {
		if !errors.Is(err, giteestore.ErrNotFound) {
			e.logger.Error("list requests folder failed", "error", err)
		}
		return nil
	}

	now := e.now()
	var pending []types.RequestRecord
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name, ".json") {
			continue
		}

		record, ok := e.fetchRequest(ctx, entry)
		if !ok {
			continue
		}
		if record.Status != types.StatusPending {
			continue
		}
		if !e.withinWindow(record.RequestTime, now) {
			e.logger.Info("pending request outside window, skipped",
				"machine_code", record.MachineCode, "request_time", record.RequestTime)
			continue
		}

		record.FilePath = entry.Path
		pending = append(pending, record)
	}

	// The timestamp format is zero-padded and fixed-width, so plain string
	// comparison sorts chronologically.
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].RequestTime > pending[j].RequestTime
	})
	return pending
}

// Resync force-reloads the ledger and re-lists pending requests, returning
// the list and the current processed count.
func (e *Engine) Resync(ctx context.Context) ([]types.RequestRecord, int) {
	pending := e.ListPending(ctx)
	return pending, e.ProcessedCount()
}

// Approve issues a license for the device and records the decision. The
// response blob write is the primary effect; if it fails the operation
// fails and nothing else is touched. The request-status update and the
// ledger append are best-effort secondary writes.
func (e *Engine) Approve(ctx context.Context, machineCode string, expireHours int) (string, error) {
	now := e.now()
	expiry := now.Add(time.Duration(expireHours) * time.Hour)
	code := license.Generate(machineCode, expiry)

	response := types.ResponseRecord{
		Status:         types.StatusApproved,
		MachineCode:    machineCode,
		LicenseCode:    code,
		ExpireDatetime: expiry.Format(time.RFC3339),
		ApproveTime:    now.Format(time.RFC3339),
		Approver:       e.actor,
	}
	if err := e.writeResponse(ctx, machineCode, response, "license response: "+machineCode); err != nil {
		return "", fmt.Errorf("write approval response: %w", err)
	}

	e.finishDecision(ctx, machineCode, types.StatusApproved)

	return fmt.Sprintf("request approved, license expires %s", expiry.Format(types.TimeLayout)), nil
}

// Reject records a rejection for the device. Same write ordering and
// failure tolerance as Approve.
func (e *Engine) Reject(ctx context.Context, machineCode string, reason string) (string, error) {
	now := e.now()

	response := types.ResponseRecord{
		Status:      types.StatusRejected,
		MachineCode: machineCode,
		Message:     reason,
		RejectTime:  now.Format(time.RFC3339),
		Rejector:    e.actor,
	}
	if err := e.writeResponse(ctx, machineCode, response, "license response: "+machineCode); err != nil {
		return "", fmt.Errorf("write rejection response: %w", err)
	}

	e.finishDecision(ctx, machineCode, types.StatusRejected)

	return "request rejected", nil
}

// ProcessedCount returns the size of the in-memory processed set.
func (e *Engine) ProcessedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.processed)
}

// ProcessedSample returns up to n processed request paths, sorted, for
// debug reporting.
func (e *Engine) ProcessedSample(n int) []string {
	e.mu.Lock()
	paths := make([]string, 0, len(e.processed))
	for p := range e.processed {
		paths = append(paths, p)
	}
	e.mu.Unlock()

	sort.Strings(paths)
	if len(paths) > n {
		paths = paths[:n]
	}
	return paths
}

// ProbeRequests reports how many entries the requests folder currently
// holds, for the debug endpoint.
func (e *Engine) ProbeRequests(ctx context.Context) (int, error) {
	entries, err := e.store.List(ctx, requestsFolder)
	if err != nil {
		if errors.Is(err, giteestore.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return len(entries), nil
}

func (e *Engine) writeResponse(ctx context.Context, machineCode string, response types.ResponseRecord, message string) error {
	body, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return err
	}
	return e.store.Upsert(ctx, responsesFolder+"/"+machineCode+".json", body, message)
}

// finishDecision runs the secondary writes after a response blob landed:
// flip the request record's status, then persist the ledger. Both are
// tolerated failures; the requester already has its verdict.
func (e *Engine) finishDecision(ctx context.Context, machineCode string, status types.Status) {
	if err := e.updateRequestStatus(ctx, machineCode, status); err != nil {
		e.logger.Warn("request status update failed, response already delivered",
			"machine_code", machineCode, "status", string(status), "error", err)
	}
	if err := e.markProcessed(ctx, requestsFolder+"/"+machineCode+".json"); err != nil {
		e.logger.Warn("ledger update failed, audit trail degraded",
			"machine_code", machineCode, "error", err)
	}
}

func (e *Engine) updateRequestStatus(ctx context.Context, machineCode string, status types.Status) error {
	path := requestsFolder + "/" + machineCode + ".json"
	message := fmt.Sprintf("update request status: %s -> %s", machineCode, status)

	// One re-read retry on revision conflict, then give up; the operator
	// can re-trigger.
	for attempt := 0; attempt < 2; attempt++ {
		content, sha, err := e.store.Get(ctx, path)
		if err != nil {
			return err
		}

		var record types.RequestRecord
		if err := json.Unmarshal(content, &record); err != nil {
			return fmt.Errorf("parse request record: %w", err)
		}
		if !record.Status.CanTransitionTo(status) {
			e.logger.Warn("overwriting terminal request status",
				"machine_code", machineCode, "from", string(record.Status), "to", string(status))
		}
		record.Status = status
		record.StatusUpdateTime = e.now().Format(types.TimeLayout)

		body, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return err
		}
		err = e.store.Update(ctx, path, body, sha, message)
		if !errors.Is(err, giteestore.ErrConflict) {
			return err
		}
	}
	return giteestore.ErrConflict
}

// reloadLedger replaces the in-memory processed set with the persisted one.
// On any failure the previous set is kept rather than cleared, so a blip
// reading the ledger cannot erase what this instance already knows.
func (e *Engine) reloadLedger(ctx context.Context) {
	content, _, err := e.store.Get(ctx, ledgerPath)
	if err != nil {
		if errors.Is(err, giteestore.ErrNotFound) {
			e.logger.Info("processed ledger absent, keeping in-memory set")
		} else {
			e.logger.Warn("processed ledger reload failed, keeping in-memory set", "error", err)
		}
		return
	}

	var paths []string
	if err := json.Unmarshal(content, &paths); err != nil {
		e.logger.Warn("processed ledger malformed, keeping in-memory set", "error", err)
		return
	}

	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}

	e.mu.Lock()
	before := len(e.processed)
	e.processed = set
	e.mu.Unlock()

	if before != len(set) {
		e.logger.Info("processed ledger refreshed", "before", before, "after", len(set))
	}
}

// markProcessed adds the path to the processed set and persists the ledger.
// Every path passed here stays in the in-memory set even if the persist
// fails; the next successful persist carries it.
func (e *Engine) markProcessed(ctx context.Context, path string) error {
	e.mu.Lock()
	e.processed[path] = struct{}{}
	paths := make([]string, 0, len(e.processed))
	for p := range e.processed {
		paths = append(paths, p)
	}
	e.mu.Unlock()

	sort.Strings(paths)
	body, err := json.MarshalIndent(paths, "", "  ")
	if err != nil {
		return err
	}

	message := fmt.Sprintf("mark request processed: %s [%d]", path, e.now().UnixMilli())
	return e.store.Upsert(ctx, ledgerPath, body, message)
}

func (e *Engine) fetchRequest(ctx context.Context, entry giteestore.Entry) (types.RequestRecord, bool) {
	var content []byte
	var err error
	if entry.DownloadURL != "" {
		content, err = e.store.Download(ctx, entry.DownloadURL)
	} else {
		content, _, err = e.store.Get(ctx, entry.Path)
	}
	if err != nil {
		e.logger.Warn("fetch request blob failed, skipped", "path", entry.Path, "error", err)
		return types.RequestRecord{}, false
	}

	var record types.RequestRecord
	if err := json.Unmarshal(content, &record); err != nil {
		e.logger.Warn("parse request blob failed, skipped", "path", entry.Path, "error", err)
		return types.RequestRecord{}, false
	}
	return record, true
}

// withinWindow reports whether the request timestamp falls inside
// [0, window] before now. A timestamp that fails to parse is kept
// (fail-open): a malformed clock on the device must not hide an otherwise
// actionable request.
func (e *Engine) withinWindow(requestTime string, now time.Time) bool {
	t, err := types.ParseRequestTime(requestTime)
	if err != nil {
		e.logger.Warn("request_time unparseable, keeping request", "request_time", requestTime, "error", err)
		return true
	}
	age := now.Sub(t)
	return age >= 0 && age <= e.window
}
