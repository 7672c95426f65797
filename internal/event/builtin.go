package event

import "errors"

var errEmptyFilter = errors.New("filter value must not be empty")

// DefaultCatalog returns the catalogue of built-in application events.
func DefaultCatalog() *Catalog {
	return NewCatalog().MustRegister(
		Type{
			ID:          KindApplicationReady,
			Description: "The application finished starting.",
			Constructors: []Constructor{
				{New: func(Args) (Event, error) { return ApplicationReady{}, nil }},
			},
		},
		wikiType(KindWikiReady, "A wiki became available.", NewWikiReady),
		wikiType(KindWikiDeleted, "A wiki was deleted.", NewWikiDeleted),
		documentType(KindDocumentCreated, "A document was created."),
		documentType(KindDocumentUpdated, "A document was saved."),
		documentType(KindDocumentDeleted, "A document was deleted."),
		Type{
			ID:          KindSystemStats,
			Description: "Periodic process readings of a gateway host.",
			Source:      decodeHost,
			Constructors: []Constructor{
				{New: func(Args) (Event, error) { return SystemStats{}, nil }},
				{
					Params: []Param{{Name: "host", Kind: String}},
					New: func(a Args) (Event, error) {
						return SystemStats{Host: a.String("host")}, nil
					},
				},
				{
					Params: []Param{{Name: "host", Kind: String}, {Name: "minCpuPercent", Kind: Float}},
					New: func(a Args) (Event, error) {
						return SystemStats{Host: a.String("host"), MinCPUPercent: a.Float("minCpuPercent")}, nil
					},
				},
				{
					Params: []Param{{Name: "host", Kind: String}, {Name: "cpuPercent", Kind: Float}},
					New: func(a Args) (Event, error) {
						return SystemStats{Host: a.String("host"), CPUPercent: a.Float("cpuPercent")}, nil
					},
				},
			},
		},
	)
}

func wikiType(kind, description string, build func(string) WikiEvent) Type {
	return Type{
		ID:          kind,
		Description: description,
		Constructors: []Constructor{
			{New: func(Args) (Event, error) { return build(""), nil }},
			{
				Params: []Param{{Name: "wikiId", Kind: String}},
				New: func(a Args) (Event, error) {
					id := a.String("wikiId")
					if id == "" {
						return nil, errEmptyFilter
					}
					return build(id), nil
				},
			},
		},
	}
}

func documentType(kind, description string) Type {
	return Type{
		ID:          kind,
		Description: description,
		Source:      decodeDocument,
		Constructors: []Constructor{
			{New: func(Args) (Event, error) { return DocumentEvent{kind: kind}, nil }},
			{
				Params: []Param{{Name: "reference", Kind: String}},
				New: func(a Args) (Event, error) {
					ref := a.String("reference")
					if ref == "" {
						return nil, errEmptyFilter
					}
					return newDocumentEvent(kind, ref), nil
				},
			},
			{
				Params: []Param{{Name: "wiki", Kind: String}},
				New: func(a Args) (Event, error) {
					return DocumentEvent{kind: kind, Wiki: a.String("wiki")}, nil
				},
			},
			{
				Params: []Param{{Name: "wiki", Kind: String}, {Name: "space", Kind: String}},
				New: func(a Args) (Event, error) {
					return DocumentEvent{kind: kind, Wiki: a.String("wiki"), Space: a.String("space")}, nil
				},
			},
		},
	}
}
