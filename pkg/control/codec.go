package control

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-master/pkg/domain"
)

func unitInfoFields(info domain.UnitInfo) map[string]interface{} {
	return map[string]interface{}{
		"id":           info.ID,
		"kind":         string(info.Kind),
		"status":       info.Status,
		"required":     info.Required,
		"pid":          info.PID,
		"port":         info.Port,
		"restarts":     info.Restarts,
		"status_since": formatTime(info.StatusSince),
		"last_check":   formatTime(info.LastCheck),
		"last_error":   info.LastError,
	}
}

func encodeUnitInfo(info domain.UnitInfo) (*structpb.Struct, error) {
	return structpb.NewStruct(unitInfoFields(info))
}

func decodeUnitInfo(s *structpb.Struct) domain.UnitInfo {
	fields := s.GetFields()
	return domain.UnitInfo{
		ID:          fields["id"].GetStringValue(),
		Kind:        domain.UnitKind(fields["kind"].GetStringValue()),
		Status:      fields["status"].GetStringValue(),
		Required:    fields["required"].GetBoolValue(),
		PID:         int(fields["pid"].GetNumberValue()),
		Port:        int(fields["port"].GetNumberValue()),
		Restarts:    int(fields["restarts"].GetNumberValue()),
		StatusSince: parseTime(fields["status_since"].GetStringValue()),
		LastCheck:   parseTime(fields["last_check"].GetStringValue()),
		LastError:   fields["last_error"].GetStringValue(),
	}
}

func encodeUnitList(units []domain.UnitInfo) (*structpb.Struct, error) {
	list := make([]interface{}, 0, len(units))
	for _, unit := range units {
		list = append(list, unitInfoFields(unit))
	}
	return structpb.NewStruct(map[string]interface{}{"units": list})
}

func decodeUnitList(s *structpb.Struct) []domain.UnitInfo {
	values := s.GetFields()["units"].GetListValue().GetValues()
	units := make([]domain.UnitInfo, 0, len(values))
	for _, value := range values {
		units = append(units, decodeUnitInfo(value.GetStructValue()))
	}
	return units
}

func encodeMasterStatus(status domain.MasterStatus) (*structpb.Struct, error) {
	counts := make(map[string]interface{}, len(status.Units))
	for unitStatus, count := range status.Units {
		counts[unitStatus] = count
	}
	return structpb.NewStruct(map[string]interface{}{
		"instance_id": status.InstanceID,
		"state":       status.State,
		"started_at":  formatTime(status.StartedAt),
		"units":       counts,
	})
}

func decodeMasterStatus(s *structpb.Struct) domain.MasterStatus {
	fields := s.GetFields()
	units := make(map[string]int)
	for unitStatus, count := range fields["units"].GetStructValue().GetFields() {
		units[unitStatus] = int(count.GetNumberValue())
	}
	return domain.MasterStatus{
		InstanceID: fields["instance_id"].GetStringValue(),
		State:      fields["state"].GetStringValue(),
		StartedAt:  parseTime(fields["started_at"].GetStringValue()),
		Units:      units,
	}
}

func unitIDRequest(id string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id": structpb.NewStringValue(id),
	}}
}

func callUnitRequest(id, method string, request *structpb.Struct, timeout time.Duration) *structpb.Struct {
	if request == nil {
		request = &structpb.Struct{}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":         structpb.NewStringValue(id),
		"method":     structpb.NewStringValue(method),
		"timeout_ms": structpb.NewNumberValue(float64(timeout.Milliseconds())),
		"request":    structpb.NewStructValue(request),
	}}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
