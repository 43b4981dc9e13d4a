package rest

import "time"

type (
	// Entry is a single curated article as stored by the REST backend. The
	// identifier is an immutable 26-character sortable token. Content
	// variants accumulate as the pipeline runs: RawContent comes from the
	// feed, FullContent from the fetch stage, FilteredContent is a
	// line-range selection of FullContent, TranslatedContent exists only
	// when a target language is configured and Summary is the distilled
	// 3-4 sentence abstract.
	Entry struct {
		ID                string         `json:"id"`
		FeedID            string         `json:"feedId"`
		Title             string         `json:"title"`
		URL               string         `json:"url"`
		Author            string         `json:"author,omitempty"`
		PublishedAt       time.Time      `json:"publishedAt"`
		RawContent        string         `json:"rawContent,omitempty"`
		FullContent       string         `json:"fullContent,omitempty"`
		FilteredContent   string         `json:"filteredContent,omitempty"`
		TranslatedContent string         `json:"translatedContent,omitempty"`
		Summary           string         `json:"summary,omitempty"`
		IsRead            bool           `json:"isRead"`
		IsStarred         bool           `json:"isStarred"`
		Keep              bool           `json:"keep"`
		Metadata          map[string]any `json:"metadata,omitempty"`
		Embedding         []float32      `json:"embedding,omitempty"`
	}

	// Feed describes a subscribed feed and its fetch options.
	Feed struct {
		ID      string      `json:"id"`
		Name    string      `json:"name"`
		SiteURL string      `json:"siteUrl"`
		FeedURL string      `json:"feedUrl"`
		Options FeedOptions `json:"options"`
	}

	// FeedOptions tunes how entries of a feed are fetched. ExtractionRules
	// are CSS selectors removed from fetched HTML before Markdown
	// conversion; they are pure exclusions, never inclusions.
	FeedOptions struct {
		FetchContent    bool     `json:"fetchContent"`
		ExtractionRules []string `json:"extractionRules,omitempty"`
		ETag            string   `json:"etag,omitempty"`
		LastModified    string   `json:"lastModified,omitempty"`
	}

	// EntryPatch carries a partial entry update. Nil fields are untouched.
	EntryPatch struct {
		FullContent       *string        `json:"fullContent,omitempty"`
		FilteredContent   *string        `json:"filteredContent,omitempty"`
		TranslatedContent *string        `json:"translatedContent,omitempty"`
		Summary           *string        `json:"summary,omitempty"`
		Metadata          map[string]any `json:"metadata,omitempty"`
	}

	// Enrichment is a structured derivation attached to an entry, such as a
	// GitHub repository card or a fetched link preview.
	Enrichment struct {
		Type    string         `json:"type"`
		Source  string         `json:"source,omitempty"`
		Payload map[string]any `json:"payload"`
	}

	// EntryLink is an outbound link discovered in an entry's content.
	EntryLink struct {
		URL   string `json:"url"`
		Title string `json:"title,omitempty"`
	}

	// ListEntriesRequest filters the entry listing endpoint; the fields
	// travel as query parameters. Cursor-based: pass the last seen id to
	// page forward.
	ListEntriesRequest struct {
		FeedID             string
		AfterID            string
		Limit              int
		HasFilteredContent *bool
		MissingEmbedding   *bool
	}

	// CleanupRequest asks the backend to delete read, unstarred, unkept
	// entries older than the cutoff. DryRun returns the matching ids
	// without deleting.
	CleanupRequest struct {
		OlderThanDays int  `json:"olderThanDays"`
		DryRun        bool `json:"dryRun"`
		Limit         int  `json:"limit,omitempty"`
	}

	// CleanupResult reports the affected entry ids.
	CleanupResult struct {
		DeletedIDs []string `json:"deletedIds"`
	}

	// SearchRequest queries the keyword index through the backend proxy.
	SearchRequest struct {
		Query string `json:"query"`
		Limit int    `json:"limit,omitempty"`
	}

	// SearchHit is one keyword search result.
	SearchHit struct {
		ID      string  `json:"id"`
		Title   string  `json:"title"`
		Excerpt string  `json:"excerpt"`
		URL     string  `json:"url,omitempty"`
		Score   float64 `json:"score"`
	}

	// VectorSearchRequest queries entries by embedding similarity. Results
	// below Threshold similarity distance are excluded by the backend.
	VectorSearchRequest struct {
		Embedding []float32 `json:"embedding"`
		Limit     int       `json:"limit,omitempty"`
		Threshold float64   `json:"threshold,omitempty"`
	}

	// VectorHit is one vector search result. SimilarityScore is a distance
	// in [0,1]; lower is closer.
	VectorHit struct {
		ID              string  `json:"id"`
		Title           string  `json:"title"`
		Excerpt         string  `json:"excerpt"`
		URL             string  `json:"url,omitempty"`
		SimilarityScore float64 `json:"similarityScore"`
	}

	// Settings is the subset of backend settings the pipeline reads.
	Settings struct {
		TargetLanguage    string   `json:"targetLanguage,omitempty"`
		BlockedDomains    []string `json:"blockedDomains,omitempty"`
		EvaluationEnabled bool     `json:"evaluationEnabled"`
	}

	// ProgressBroadcast is the body of POST /sse/broadcast. Progress is a
	// free-form snapshot; the backend fans it out to subscribed browsers.
	ProgressBroadcast struct {
		WorkflowID string `json:"workflowId"`
		Progress   any    `json:"progress"`
	}

	// IndexDocument is the search-index projection of an entry.
	IndexDocument struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url,omitempty"`
	}
)
