package uid

import "github.com/rs/xid"

// xid (12bytes), sortable and unique per process invocation.

func GenerateID() string {
	return xid.New().String()
}
