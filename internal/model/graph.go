package model

import "time"

// Node types in the knowledge graph.
const (
	NodeCompany           = "company"
	NodeNews              = "news"
	NodeChangeEvent       = "change_event"
	NodeAnalyticsSnapshot = "analytics_snapshot"
)

// Relationship names in the knowledge graph.
const (
	RelMentionedIn  = "MENTIONED_IN"
	RelHadChange    = "HAD_CHANGE"
	RelCompetesWith = "COMPETES_WITH"
	RelHasSnapshot  = "HAS_SNAPSHOT"
)

// KnowledgeGraphEdge is a derived relationship. Its natural key is
// (subject, relationship, object); weight and observed_at are overwritten on
// each sync.
type KnowledgeGraphEdge struct {
	SubjectType  string    `json:"subject_type"`
	SubjectID    string    `json:"subject_id"`
	Relationship string    `json:"relationship"`
	ObjectType   string    `json:"object_type"`
	ObjectID     string    `json:"object_id"`
	Weight       float64   `json:"weight"`
	ObservedAt   time.Time `json:"observed_at"`
}

// NaturalKey renders the edge identity.
func (e KnowledgeGraphEdge) NaturalKey() string {
	return e.SubjectType + ":" + e.SubjectID + "-[" + e.Relationship + "]->" + e.ObjectType + ":" + e.ObjectID
}
