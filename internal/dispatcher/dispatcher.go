// Package dispatcher implements the stateless Dispatch entry point (spec
// §4.3/§6.1): it determines the stream id from the command, enforces a
// per-command timeout, validates the command payload, forwards to the
// aggregate runtime, and maps every error outcome to a stable reason
// code.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/podcloud/balados-sync/internal/aggregate"
	"github.com/podcloud/balados-sync/internal/events"
	"github.com/podcloud/balados-sync/internal/eventstore"
	"github.com/podcloud/balados-sync/internal/metrics"
	"github.com/podcloud/balados-sync/internal/notify"
	"github.com/podcloud/balados-sync/internal/validation"
)

// DefaultTimeout covers load+validate+append for one command (spec §5).
const DefaultTimeout = 5 * time.Second

// Code is the stable, lower_snake reason string surfaced on Dispatch
// failure (spec §7). It is a superset of aggregate.Reason: validation
// reasons are carried through verbatim; the remaining values are
// dispatcher/runtime-level outcomes.
type Code string

const (
	CodeVersionConflict Code = "version_conflict"
	CodeUnavailable     Code = "unavailable"
	CodeTimeout         Code = "timeout"
	CodeStreamPoisoned  Code = "stream_poisoned"
	CodeInvalidCommand  Code = "invalid_command"
)

// Error is what Dispatch returns on failure: a stable Code plus, for
// validation failures, the underlying aggregate.Reason string as Code
// itself (they share the same lower_snake vocabulary, see aggregate.Reason).
type Error struct {
	Code Code
}

func (e *Error) Error() string { return string(e.Code) }

// EventInfo is the recognized subset of a command envelope's metadata map
// (spec §6.5): device_id, device_name, privacy. Copied verbatim into every
// event's metadata.
type EventInfo struct {
	DeviceID   string
	DeviceName string
	Privacy    string
}

func (i EventInfo) toMetadata() events.Metadata {
	m := events.Metadata{}
	if i.DeviceID != "" {
		m["device_id"] = i.DeviceID
	}
	if i.DeviceName != "" {
		m["device_name"] = i.DeviceName
	}
	if i.Privacy != "" {
		m["privacy"] = i.Privacy
	}
	return m
}

// Dispatcher is stateless beyond its handles to the runtime and the wake
// notifier (spec §4.3: "Contract. Stateless.").
type Dispatcher struct {
	runtime  *aggregate.Runtime
	notifier notify.Publisher
	timeout  time.Duration
}

// New constructs a Dispatcher. notifier may be nil, in which case no wake
// signal is published after a successful append (the projection runner
// still makes progress via its own polling loop).
func New(runtime *aggregate.Runtime, notifier notify.Publisher, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		runtime:  runtime,
		notifier: notifier,
		timeout:  timeout,
	}
}

// Dispatch forwards cmd to the aggregate runtime, enforcing the
// per-command timeout and translating every failure into a stable Code
// (spec §4.3/§6.1/§7).
func (d *Dispatcher) Dispatch(ctx context.Context, cmd aggregate.Command, info EventInfo) (aggregate.Result, error) {
	start := time.Now()
	kind := string(cmd.Kind())

	if verr := validation.ValidateStruct(cmd); verr != nil {
		metrics.RecordCommandRejected(kind, string(CodeInvalidCommand), time.Since(start))
		return aggregate.Result{}, &Error{Code: CodeInvalidCommand}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := d.runtime.Execute(ctx, cmd, info.toMetadata())
	if err != nil {
		return aggregate.Result{}, d.translate(cmd, start, err)
	}

	metrics.RecordCommandDispatched(kind, time.Since(start))
	if d.notifier != nil && len(result.GlobalPositions) > 0 {
		d.notifier.Wake(ctx, result.GlobalPositions[len(result.GlobalPositions)-1])
	}
	return result, nil
}

// DispatchAsync is the fire-and-forget variant named in spec §4.3: it
// dispatches in a new goroutine and never blocks the caller on the
// result. Errors are only observable through metrics.
func (d *Dispatcher) DispatchAsync(ctx context.Context, cmd aggregate.Command, info EventInfo) {
	detached := context.WithoutCancel(ctx)
	go func() {
		_, _ = d.Dispatch(detached, cmd, info)
	}()
}

func (d *Dispatcher) translate(cmd aggregate.Command, start time.Time, err error) error {
	kind := string(cmd.Kind())
	reject := func(code Code) error {
		metrics.RecordCommandRejected(kind, string(code), time.Since(start))
		return &Error{Code: code}
	}

	var validationErr *aggregate.ValidationError
	if errors.As(err, &validationErr) {
		return reject(Code(validationErr.Reason))
	}
	if errors.Is(err, aggregate.ErrVersionConflict) {
		return reject(CodeVersionConflict)
	}
	if errors.Is(err, aggregate.ErrStreamPoisoned) {
		return reject(CodeStreamPoisoned)
	}
	var unavailable *eventstore.UnavailableError
	if errors.As(err, &unavailable) {
		return reject(CodeUnavailable)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return reject(CodeTimeout)
	}
	return reject(CodeUnavailable)
}
