package openalex

// WorksResponse is the envelope returned by GET /works.
type WorksResponse struct {
	Meta    Meta   `json:"meta"`
	Results []Work `json:"results"`
}

// Meta carries paging information.
type Meta struct {
	Count   int `json:"count"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Work is a single OpenAlex work as decoded from the API.
type Work struct {
	ID              string       `json:"id"`
	DOI             string       `json:"doi"`
	Title           string       `json:"title"`
	DisplayName     string       `json:"display_name"`
	PublicationDate string       `json:"publication_date"`
	CitedByCount    int          `json:"cited_by_count"`
	IDs             *WorkIDs     `json:"ids,omitempty"`
	PrimaryLocation *Location    `json:"primary_location,omitempty"`
	Topics          []Topic      `json:"topics,omitempty"`
	Authorships     []Authorship `json:"authorships,omitempty"`
}

// WorkIDs lists external identifiers.
type WorkIDs struct {
	OpenAlex string `json:"openalex"`
	DOI      string `json:"doi"`
}

// Location is where a work is hosted.
type Location struct {
	LandingPageURL string `json:"landing_page_url"`
	PDFURL         string `json:"pdf_url"`
}

// Topic is a classified research topic.
type Topic struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Subfield    *Group `json:"subfield,omitempty"`
	Field       *Group `json:"field,omitempty"`
}

// Group is a node of the topic hierarchy (subfield, field, domain).
type Group struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Authorship links a work to one author.
type Authorship struct {
	Author Author `json:"author"`
}

// Author is a contributor.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Paper is the flattened record the rest of the engine works with.
type Paper struct {
	Title           string   `json:"title"`
	PublicationDate string   `json:"publication_date"`
	Category        string   `json:"category"`
	Authors         []string `json:"authors"`
	ID              string   `json:"id"`
	URL             string   `json:"url"`
	CitedByCount    int      `json:"cited_by_count"`
}

// Paper flattens the work, applying the documented fallbacks.
func (w Work) Paper() Paper {
	p := Paper{
		Title:           w.Title,
		PublicationDate: w.PublicationDate,
		ID:              w.canonicalID(),
		CitedByCount:    w.CitedByCount,
	}
	if p.Title == "" {
		p.Title = w.DisplayName
	}

	if len(w.Topics) > 0 {
		top := w.Topics[0]
		if top.Subfield != nil && top.Subfield.DisplayName != "" {
			p.Category = top.Subfield.DisplayName
		} else {
			p.Category = top.DisplayName
		}
	}

	p.Authors = make([]string, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			p.Authors = append(p.Authors, a.Author.DisplayName)
		}
	}

	if w.PrimaryLocation != nil && w.PrimaryLocation.LandingPageURL != "" {
		p.URL = w.PrimaryLocation.LandingPageURL
	} else {
		p.URL = p.ID
	}

	return p
}

func (w Work) canonicalID() string {
	switch {
	case w.DOI != "":
		return w.DOI
	case w.IDs != nil && w.IDs.DOI != "":
		return w.IDs.DOI
	case w.IDs != nil && w.IDs.OpenAlex != "":
		return w.IDs.OpenAlex
	default:
		return w.ID
	}
}
