package model

// SourceTier classifies how authoritative a snapshot's contributing source is
type SourceTier int

const (
	TierUnknown   SourceTier = 0 // No source label
	TierPrimary   SourceTier = 1 // Regulatory filings, official statistics
	TierSecondary SourceTier = 2 // Market data vendors
	TierTertiary  SourceTier = 3 // Anything else
)

func (t SourceTier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	case TierTertiary:
		return "tertiary"
	default:
		return "unknown"
	}
}

// Citation is a source reference found in response text
type Citation struct {
	Kind  CitationKind `json:"kind"`
	Label string       `json:"label"` // Host for URLs, source name otherwise
}

// CitationKind classifies how a response cites a source
type CitationKind string

const (
	CitationURL       CitationKind = "url"       // Inline link
	CitationNamed     CitationKind = "named"     // "Source: SEC 10-K"
	CitationReference CitationKind = "reference" // [1]
)
