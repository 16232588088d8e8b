package sink

import (
	"context"
	"fmt"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	provisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vds_sink_provisions_total",
		Help: "Total destination provisioning attempts by sink and outcome",
	}, []string{"sink", "outcome"})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vds_sink_deliveries_total",
		Help: "Total record deliveries by sink and outcome",
	}, []string{"sink", "outcome"})
)

// Destination is the opaque handle of a provisioned run destination:
// a file path, an index name, a table name or an object prefix.
type Destination string

// Sink is a persistence target for enriched records.
type Sink interface {
	// Provision makes the run's destination ready. It returns a
	// *ProvisionError on failure.
	Provision(ctx context.Context, run vacancy.Run) (Destination, error)

	// Deliver persists one record. It returns a *DeliveryError on failure.
	Deliver(ctx context.Context, dest Destination, rec vacancy.Record) error

	// Close releases the sink's resources.
	Close() error
}

// Kind names a sink implementation.
type Kind string

// Sink kinds.
const (
	KindFile     Kind = "file"
	KindIndex    Kind = "index"
	KindPostgres Kind = "postgres"
	KindObject   Kind = "object"
)

// ParseKind validates a sink name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindFile, KindIndex, KindPostgres, KindObject:
		return k, nil
	}
	return "", fmt.Errorf("unknown sink %q (want file, index, postgres or object)", s)
}

// ProvisionError reports a destination that could not be made ready.
// It is fatal to the run.
type ProvisionError struct {
	Sink        Kind
	Destination Destination
	Err         error
}

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	return fmt.Sprintf("%s sink: provision %s: %v", e.Sink, e.Destination, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// DeliveryError reports a record the destination did not accept.
type DeliveryError struct {
	Sink        Kind
	Destination Destination
	Reference   vacancy.Reference
	Err         error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s sink: deliver %s to %s: %v", e.Sink, e.Reference, e.Destination, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func provisioned(kind Kind, dest Destination, err error) (Destination, error) {
	if err != nil {
		provisionsTotal.WithLabelValues(string(kind), "failed").Inc()
		return "", &ProvisionError{Sink: kind, Destination: dest, Err: err}
	}
	provisionsTotal.WithLabelValues(string(kind), "ok").Inc()
	return dest, nil
}

func delivered(kind Kind, dest Destination, rec vacancy.Record, err error) error {
	if err != nil {
		deliveriesTotal.WithLabelValues(string(kind), "failed").Inc()
		return &DeliveryError{Sink: kind, Destination: dest, Reference: rec.Reference, Err: err}
	}
	deliveriesTotal.WithLabelValues(string(kind), "ok").Inc()
	return nil
}
