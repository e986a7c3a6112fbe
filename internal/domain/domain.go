package domain

// Stakeholder participates in galaxies and holds the two balances.
// Sunshines are spendable; stars only grow, via the solar forge.
type Stakeholder struct {
	ID        string  `json:"id"`
	Nickname  string  `json:"nickname"`
	Avatar    string  `json:"avatar,omitempty"`
	Role      string  `json:"role" enum:"user,contributor,maintainer"`
	Sunshines float64 `json:"sunshines"`
	Stars     float64 `json:"stars"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Galaxy owns issues and accumulates the totals of everything funded
// and forged inside it. Exactly one maintainer.
type Galaxy struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	MaintainerID string  `json:"maintainer_id"`
	Sunshines    float64 `json:"sunshines"`
	Stars        float64 `json:"stars"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// Issue is the fundable unit of work. ListHistory is a tag set, not an
// enum: tags accumulate over time and may coexist. SolarForgeTxid, once
// set, marks the issue as converted and must never be set twice.
type Issue struct {
	ID             string   `json:"id"`
	GalaxyID       string   `json:"galaxy_id"`
	Title          string   `json:"title"`
	Body           string   `json:"body,omitempty"`
	AuthorID       string   `json:"author_id"`
	ContributorID  *string  `json:"contributor_id,omitempty"`
	Sunshines      float64  `json:"sunshines"`
	Stars          float64  `json:"stars"`
	ListHistory    []string `json:"list_history"`
	SolarForgeTxid *string  `json:"solar_forge_txid,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// Issue tags recognized by the lifecycle machine. Other tags are legal.
const (
	TagPatcher = "patcher"
	TagClosed  = "closed"
)

// HasTag reports whether the tag is present in the issue's tag set.
func (i Issue) HasTag(tag string) bool {
	for _, t := range i.ListHistory {
		if t == tag {
			return true
		}
	}
	return false
}

// Version is a release batch of issues, referenced through patches.
type Version struct {
	ID           string  `json:"id"`
	GalaxyID     string  `json:"galaxy_id"`
	Tag          string  `json:"tag"`
	Status       string  `json:"status" enum:"complete,testing,release,archived"`
	MaintainerID string  `json:"maintainer_id"`
	Patches      []Patch `json:"patches,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// Patch records an issue's inclusion in a version.
type Patch struct {
	IssueID   string `json:"issue_id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Tested    bool   `json:"tested"`
}

// FundingRecord is appended when a stakeholder moves sunshines into an
// issue's pool.
type FundingRecord struct {
	ID        string  `json:"id"`
	IssueID   string  `json:"issue_id"`
	FunderID  string  `json:"funder_id"`
	Amount    float64 `json:"amount"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// ForgeRecord is the append-only ledger entry written once per
// successful conversion.
type ForgeRecord struct {
	ID                string   `json:"id"`
	Type              string   `json:"type"`
	GalaxyID          string   `json:"galaxy_id"`
	IssueID           string   `json:"issue_id"`
	StakeholderIDs    []string `json:"stakeholder_ids"`
	SunshinesConsumed float64  `json:"sunshines_consumed"`
	StarsMinted       float64  `json:"stars_minted"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
}

// SpacePosition is the denormalized per-galaxy stakeholder snapshot
// kept as a write-through cache for presentation. Best effort only.
type SpacePosition struct {
	GalaxyID      string  `json:"galaxy_id"`
	StakeholderID string  `json:"stakeholder_id"`
	Nickname      string  `json:"nickname"`
	Avatar        string  `json:"avatar,omitempty"`
	Role          string  `json:"role"`
	Sunshines     float64 `json:"sunshines"`
	Stars         float64 `json:"stars"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	GalaxyID   string `json:"galaxy_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
