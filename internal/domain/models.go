package domain

// Server represents a virtual server ("domain") owned by a panel user
type Server struct {
	ID        string // Controller-assigned identifier
	Name      string // Display name
	IPAddress string // Assigned IPv4 address, without prefix length
	PlanID    int    // Plan the server was created with
	OwnerID   int32  // User that created the server
}

// ServerStatus is the liveness of a server as reported by the provisioning controller
type ServerStatus string

const (
	StatusOnline  ServerStatus = "online"
	StatusOffline ServerStatus = "offline"
)

// ServerView is a Server enriched with its derived status
type ServerView struct {
	Server
	Status ServerStatus
}

// PlanResources describes the sizing of a plan
type PlanResources struct {
	CPU    int `json:"cpu"`
	Memory int `json:"memory"` // MiB
	Disk   int `json:"disk"`   // GB
}

// Plan is an entry of the static plan catalog
type Plan struct {
	ID        int           `json:"id"`
	Name      string        `json:"name"`
	Resources PlanResources `json:"resources"`
}

// Network holds the process-wide addressing parameters for new servers
type Network struct {
	CIDR      string // Address block in CIDR notation (e.g. "10.0.0.0/24")
	Gateway   string // Gateway IPv4 address, never assignable
	Interface string // Interface name passed to the controller (e.g. "eth0")
}

// User represents a registered panel account
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
}

// SetupScript is a user-authored script run on first boot of a server
type SetupScript struct {
	ID          int64
	Title       string
	Description *string
	Script      string
	AuthorID    int32
}

// Session is a persisted session record; Nonce is the base64url form of the token nonce
type Session struct {
	Nonce  string
	UserID int32
}
