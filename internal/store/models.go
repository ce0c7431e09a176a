// Package store provides SQLite-backed persistence for sheep memory stores.
// One store per agent, holding episodes, facts, causal links, procedures,
// the differential change log, and the secondary per-user entities.
package store

import "time"

// TTLBucket is the retention class assigned to an episode at creation.
type TTLBucket string

const (
	TTL7Days     TTLBucket = "7d"
	TTL30Days    TTLBucket = "30d"
	TTL90Days    TTLBucket = "90d"
	TTLPermanent TTLBucket = "permanent"
)

// Episode records "what happened": a one-line summary of a conversational
// segment. Immutable except for access bookkeeping and salience/utility
// updates. Delete is hard.
type Episode struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	Summary           string    `json:"summary"`
	Participants      []string  `json:"participants"`
	Topic             string    `json:"topic"`
	Keywords          []string  `json:"keywords"`
	EmotionalSalience float64   `json:"emotionalSalience"`
	UtilityScore      float64   `json:"utilityScore"`
	SessionID         string    `json:"sessionId"`
	MessageIDs        []string  `json:"messageIds"`
	TTL               TTLBucket `json:"ttl"`
	AccessCount       int       `json:"accessCount"`
	LastAccessed      time.Time `json:"lastAccessed"`
	CreatedAt         time.Time `json:"createdAt"`
}

// EvidenceUserExplicit marks a fact asserted directly by the user rather
// than extracted from an episode.
const EvidenceUserExplicit = "user_explicit"

// Fact is a subject-predicate-object triple. Active facts form the current
// belief set; retraction is soft.
type Fact struct {
	ID              string    `json:"id"`
	Subject         string    `json:"subject"`
	Predicate       string    `json:"predicate"`
	Object          string    `json:"object"`
	Confidence      float64   `json:"confidence"`
	Evidence        []string  `json:"evidence"`
	FirstSeen       time.Time `json:"firstSeen"`
	LastConfirmed   time.Time `json:"lastConfirmed"`
	Contradictions  []string  `json:"contradictions"`
	UserAffirmed    bool      `json:"userAffirmed"`
	IsActive        bool      `json:"isActive"`
	RetractedReason string    `json:"retractedReason,omitempty"`
	AccessCount     int       `json:"accessCount"`
	CreatedAt       time.Time `json:"createdAt"`
}

// CauseType identifies what kind of memory a causal endpoint refers to.
type CauseType string

const (
	CauseFact    CauseType = "fact"
	CauseEpisode CauseType = "episode"
	CauseEvent   CauseType = "event"
)

// CausalStrength distinguishes direct causes from contributing factors.
type CausalStrength string

const (
	StrengthDirect       CausalStrength = "direct"
	StrengthContributing CausalStrength = "contributing"
)

// DirectStrengthThreshold: links created above this confidence are direct.
const DirectStrengthThreshold = 0.75

// CausalLink is a directed, confidence-weighted edge cause -> effect.
// A link may be self-referential on an episode when both sides were
// extracted from the same text.
type CausalLink struct {
	ID             string         `json:"id"`
	CauseType      CauseType      `json:"causeType"`
	CauseID        string         `json:"causeId"`
	CauseDesc      string         `json:"causeDesc"`
	EffectType     CauseType      `json:"effectType"`
	EffectID       string         `json:"effectId"`
	EffectDesc     string         `json:"effectDesc"`
	Mechanism      string         `json:"mechanism"`
	Confidence     float64        `json:"confidence"`
	Evidence       []string       `json:"evidence"`
	TemporalDelay  string         `json:"temporalDelay,omitempty"`
	CausalStrength CausalStrength `json:"causalStrength"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Procedure is a reusable trigger -> action pattern with success stats.
type Procedure struct {
	ID              string    `json:"id"`
	Trigger         string    `json:"trigger"`
	Action          string    `json:"action"`
	ExpectedOutcome string    `json:"expectedOutcome,omitempty"`
	Examples        []string  `json:"examples"`
	TimesUsed       int       `json:"timesUsed"`
	TimesSucceeded  int       `json:"timesSucceeded"`
	Tags            []string  `json:"tags"`
	CreatedAt       time.Time `json:"createdAt"`
}

// SuccessRate derives the procedure's success ratio.
func (p *Procedure) SuccessRate() float64 {
	used := p.TimesUsed
	if used < 1 {
		used = 1
	}
	return float64(p.TimesSucceeded) / float64(used)
}

// ChangeType classifies an entry in the differential change log.
type ChangeType string

const (
	ChangeStrengthen ChangeType = "strengthen"
	ChangeWeaken     ChangeType = "weaken"
	ChangeModify     ChangeType = "modify"
	ChangeRetract    ChangeType = "retract"
	ChangeCreate     ChangeType = "create"
)

// MemoryChange is one append-only entry in the differential log. Never
// mutated once written; this log is what makes point-in-time fact queries
// possible.
type MemoryChange struct {
	ID               string     `json:"id"`
	ChangeType       ChangeType `json:"changeType"`
	TargetType       string     `json:"targetType"`
	TargetID         string     `json:"targetId"`
	PreviousValue    string     `json:"previousValue,omitempty"`
	NewValue         string     `json:"newValue,omitempty"`
	Reason           string     `json:"reason"`
	TriggerEpisodeID string     `json:"triggerEpisodeId,omitempty"`
	RunID            string     `json:"runId,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
}

// RunStatus is the lifecycle state of a consolidation run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ConsolidationRun tracks one sleep cycle over a window of sessions.
type ConsolidationRun struct {
	ID                     string        `json:"id"`
	ProcessedFrom          time.Time     `json:"processedFrom"`
	ProcessedTo            time.Time     `json:"processedTo"`
	SessionsProcessed      int           `json:"sessionsProcessed"`
	EpisodesCreated        int           `json:"episodesCreated"`
	FactsExtracted         int           `json:"factsExtracted"`
	CausalLinksFound       int           `json:"causalLinksFound"`
	ProceduresLearned      int           `json:"proceduresLearned"`
	ContradictionsResolved int           `json:"contradictionsResolved"`
	MemoriesPruned         int           `json:"memoriesPruned"`
	Duration               time.Duration `json:"duration"`
	Status                 RunStatus     `json:"status"`
	Error                  string        `json:"error,omitempty"`
	StartedAt              time.Time     `json:"startedAt"`
}

// Sentiment classifies a mirrored preference.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Preference mirrors a preference-predicate fact for fast lookup.
type Preference struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Category     string    `json:"category"`
	Item         string    `json:"item"`
	Sentiment    Sentiment `json:"sentiment"`
	Strength     float64   `json:"strength"`
	SourceFactID string    `json:"sourceFactId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Relationship records a person the user is connected to.
type Relationship struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Person    string    `json:"person"`
	Relation  string    `json:"relation"`
	Sentiment Sentiment `json:"sentiment"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CoreMemory is a small always-loaded note about the user.
type CoreMemory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Foresight is a forward-looking expectation derived from an episode.
type Foresight struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Description     string     `json:"description"`
	Confidence      float64    `json:"confidence"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationDays    int        `json:"durationDays,omitempty"`
	IsActive        bool       `json:"isActive"`
	SourceEpisodeID string     `json:"sourceEpisodeId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// UserProfile is the discriminated stable/transient trait profile built
// during consolidation.
type UserProfile struct {
	ID              string            `json:"id"`
	UserID          string            `json:"userId"`
	StableTraits    map[string]string `json:"stableTraits"`
	TransientTraits map[string]string `json:"transientTraits"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// TimelineEventKind is the kind of one belief-timeline entry.
type TimelineEventKind string

const (
	TimelineCreated   TimelineEventKind = "created"
	TimelineUpdated   TimelineEventKind = "updated"
	TimelineRetracted TimelineEventKind = "retracted"
)

// TimelineEvent is one entry in a subject's belief timeline.
type TimelineEvent struct {
	Kind       TimelineEventKind `json:"kind"`
	FactID     string            `json:"factId"`
	Predicate  string            `json:"predicate"`
	Value      string            `json:"value"`
	Confidence float64           `json:"confidence"`
	Reason     string            `json:"reason,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// FactFilter narrows fact queries. Empty fields match everything.
type FactFilter struct {
	Subject    string
	Predicate  string
	Object     string
	ActiveOnly bool
}

// Stats summarizes the store's contents for health and identity reporting.
type Stats struct {
	Episodes    int `json:"episodes"`
	ActiveFacts int `json:"activeFacts"`
	TotalFacts  int `json:"totalFacts"`
	CausalLinks int `json:"causalLinks"`
	Procedures  int `json:"procedures"`
	Foresights  int `json:"foresights"`
	Changes     int `json:"changes"`
}

// Limits are the per-category caps enforced by EnforceLimits.
type Limits struct {
	MaxEpisodes    int
	MaxFacts       int
	MaxCausalLinks int
	MaxProcedures  int
	MaxTotalWeight int
}

// DefaultLimits returns the default per-agent size caps.
func DefaultLimits() Limits {
	return Limits{
		MaxEpisodes:    2000,
		MaxFacts:       5000,
		MaxCausalLinks: 1500,
		MaxProcedures:  500,
		MaxTotalWeight: 20000,
	}
}

// UniquePredicates lists predicates with at most one active fact per
// subject. A second object for the same (subject, predicate) is a
// contradiction.
var UniquePredicates = map[string]bool{
	"works_at":    true,
	"lives_in":    true,
	"name_is":     true,
	"birthday_is": true,
	"married_to":  true,
}

// PreferencePredicates are mirrored into the preferences table during
// consolidation, with the sentiment each predicate implies.
var PreferencePredicates = map[string]Sentiment{
	"prefers":     SentimentPositive,
	"likes":       SentimentPositive,
	"loves":       SentimentPositive,
	"dislikes":    SentimentNegative,
	"hates":       SentimentNegative,
	"prefers_not": SentimentNegative,
}
