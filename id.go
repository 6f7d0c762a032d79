package export

import "github.com/xraph/export/id"

// ID is the primary identifier type for all export entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
