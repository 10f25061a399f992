package domain

import (
	"context"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Contract is the master's RPC surface, served over gRPC and consumed by mastercli
type Contract interface {
	Status(ctx context.Context) (*MasterStatus, error)
	ListUnits(ctx context.Context) ([]UnitInfo, error)
	GetUnit(ctx context.Context, id string) (*UnitInfo, error)
	CallUnit(ctx context.Context, id string, method string, request *structpb.Struct, timeout time.Duration) (*structpb.Struct, error)
	RestartUnit(ctx context.Context, id string) error
}

type UnitKind string

const (
	UnitKindUnmanaged  UnitKind = "unmanaged"
	UnitKindManaged    UnitKind = "managed"
	UnitKindIntegrated UnitKind = "integrated"
)

// UnitInfo is the externally visible view of one registered unit
type UnitInfo struct {
	ID          string
	Kind        UnitKind
	Status      string
	Required    bool
	PID         int
	Port        int
	Restarts    int
	StatusSince time.Time
	LastCheck   time.Time
	LastError   string
}

type MasterStatus struct {
	InstanceID string
	State      string
	StartedAt  time.Time
	Units      map[string]int // unit count per status
}
