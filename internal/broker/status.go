package broker

import "fmt"

// OrderStatus is the normalized order state shared by all adapters.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "OPEN"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusComplete  OrderStatus = "COMPLETE"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal reports whether the order can no longer change state.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// kiteStatuses is the full set of order statuses Kite Connect can report.
var kiteStatuses = []string{
	"PUT ORDER REQ RECEIVED",
	"VALIDATION PENDING",
	"OPEN PENDING",
	"OPEN",
	"MODIFY PENDING",
	"TRIGGER PENDING",
	"CANCEL PENDING",
	"AMO REQ RECEIVED",
	"COMPLETE",
	"CANCELLED",
	"REJECTED",
}

var kiteStatusMap = map[string]OrderStatus{
	"PUT ORDER REQ RECEIVED": StatusOpen,
	"VALIDATION PENDING":     StatusOpen,
	"OPEN PENDING":           StatusOpen,
	"OPEN":                   StatusOpen,
	"MODIFY PENDING":         StatusOpen,
	"TRIGGER PENDING":        StatusOpen,
	"CANCEL PENDING":         StatusOpen,
	"AMO REQ RECEIVED":       StatusOpen,
	"COMPLETE":               StatusComplete,
	"CANCELLED":              StatusCancelled,
	"REJECTED":               StatusRejected,
}

// xtsStatuses is the full set of order statuses the XTS API can report.
var xtsStatuses = []string{
	"New",
	"Replaced",
	"Open",
	"PendingNew",
	"PendingReplace",
	"PendingCancel",
	"PartiallyFilled",
	"Filled",
	"Cancelled",
	"Rejected",
}

var xtsStatusMap = map[string]OrderStatus{
	"New":             StatusOpen,
	"Replaced":        StatusOpen,
	"Open":            StatusOpen,
	"PendingNew":      StatusOpen,
	"PendingReplace":  StatusOpen,
	"PendingCancel":   StatusOpen,
	"PartiallyFilled": StatusPartial,
	"Filled":          StatusComplete,
	"Cancelled":       StatusCancelled,
	"Rejected":        StatusRejected,
}

// validateStatusMap checks that every enumerated vendor status has a mapping.
// Adapters call this at construction so an unmapped status fails loudly
// instead of silently falling through at resolution time.
func validateStatusMap(vendor string, statuses []string, mapping map[string]OrderStatus) error {
	for _, s := range statuses {
		if _, ok := mapping[s]; !ok {
			return fmt.Errorf("%s status map missing entry for %q", vendor, s)
		}
	}
	return nil
}

// mapStatus resolves a vendor status string, returning an error for strings
// outside the enumerated set (vendor API drift should surface, not hide).
func mapStatus(vendor string, mapping map[string]OrderStatus, vendorStatus string) (OrderStatus, error) {
	if st, ok := mapping[vendorStatus]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unmapped %s order status %q", vendor, vendorStatus)
}
