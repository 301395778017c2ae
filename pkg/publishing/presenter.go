package publishing

import (
	"errors"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/moonwalker/searchindex/pkg/elastic"
	"github.com/moonwalker/searchindex/pkg/index"
)

var ErrNotIdentifiable = errors.New("document has no link")

// unpublishingTypes remove a document from the index.
var unpublishingTypes = []string{"gone", "redirect", "substitute", "unpublishing", "vanish"}

// withoutBasePathTypes are published without a page of their own, so a missing
// link is expected.
var withoutBasePathTypes = []string{
	"contact",
	"role_appointment",
	"world_location",
	"ambassador_role",
	"board_member_role",
	"chief_professional_officer_role",
	"chief_scientific_advisor_role",
	"chief_scientific_officer_role",
	"deputy_head_of_mission_role",
	"governor_role",
	"high_commissioner_role",
	"military_role",
	"ministerial_role",
	"special_representative_role",
	"traffic_commissioner_role",
	"worldwide_office_staff_role",
}

var customFormats = map[string]string{
	"esi_fund":                         "european_structural_investment_fund",
	"external_content":                 "recommended-link",
	"field_of_operation":               "operational_field",
	"national_statistics_announcement": "statistics_announcement",
	"official_statistics_announcement": "statistics_announcement",
	"service_manual_homepage":          "service_manual_guide",
	"service_manual_service_standard":  "service_manual_guide",
	"working_group":                    "policy_group",
}

// Presenter renders a publishing payload as an index document.
type Presenter struct {
	payload gjson.Result
}

func NewPresenter(payload []byte) Presenter {
	return Presenter{payload: gjson.ParseBytes(payload)}
}

func (p Presenter) DocumentType() string {
	return p.payload.Get("document_type").String()
}

func (p Presenter) Unpublishing() bool {
	return slices.Contains(unpublishingTypes, p.DocumentType())
}

func (p Presenter) Format() string {
	t := p.DocumentType()
	if f, ok := customFormats[t]; ok {
		return f
	}
	return t
}

func (p Presenter) BasePath() string {
	return p.payload.Get("base_path").String()
}

// Link is the external url for recommended links and the base path
// otherwise.
func (p Presenter) Link() string {
	if p.Format() == "recommended-link" {
		return p.payload.Get("details.url").String()
	}
	return p.BasePath()
}

func (p Presenter) Locale() string {
	if l := p.payload.Get("locale").String(); l != "" {
		return l
	}
	return "en"
}

func (p Presenter) Valid() error {
	if p.Link() == "" {
		return ErrNotIdentifiable
	}
	return nil
}

func (p Presenter) Identifier() index.Identifier {
	id := index.Identifier{Type: elastic.DefaultDocumentType, ID: p.Link()}
	if v := p.payload.Get("payload_version"); v.Exists() {
		version := v.Int()
		id.Version = &version
		id.VersionType = index.VersionTypeExternal
	}
	return id
}

func (p Presenter) Document() map[string]interface{} {
	doc := map[string]interface{}{
		"content_id":                      p.str("content_id"),
		"content_store_document_type":     p.DocumentType(),
		"description":                     p.str("description"),
		"email_document_supertype":        p.str("email_document_supertype"),
		"format":                          p.Format(),
		"government_document_supertype":   p.str("government_document_supertype"),
		"is_withdrawn":                    p.payload.Get("withdrawn_notice").Exists(),
		"link":                            p.Link(),
		"public_timestamp":                p.str("public_updated_at"),
		"publishing_app":                  p.str("publishing_app"),
		"rendering_app":                   p.str("rendering_app"),
		"title":                           p.title(),
		"user_journey_document_supertype": p.str("user_journey_document_supertype"),
		"indexable_content":               p.indexableContent(),
		"organisations":                   p.slugs("organisations", "/government/organisations/", "/courts-tribunals/"),
		"organisation_content_ids":        p.contentIDs("organisations"),
		"primary_publishing_organisation": p.slugs("primary_publishing_organisation", "/government/organisations/", "/courts-tribunals/"),
		"mainstream_browse_pages":         p.slugs("mainstream_browse_pages", "/browse/"),
		"specialist_sectors":              p.slugs("topics", "/topic/"),
		"taxons":                          p.contentIDs("taxons"),
		"topic_content_ids":               p.contentIDs("topics"),
	}
	for k, v := range doc {
		if v == nil || v == "" {
			delete(doc, k)
		}
	}
	return doc
}

func (p Presenter) str(path string) interface{} {
	if v := p.payload.Get(path); v.Exists() && v.Type != gjson.Null {
		return v.String()
	}
	return nil
}

func (p Presenter) title() string {
	title := p.payload.Get("title").String()
	if p.Format() == "hmrc_manual_section" {
		if section := p.payload.Get("details.section_id").String(); section != "" {
			return section + " - " + title
		}
	}
	return title
}

// indexableContent joins the body and part bodies of a page.
func (p Presenter) indexableContent() interface{} {
	var parts []string
	if body := p.payload.Get("details.body").String(); body != "" {
		parts = append(parts, body)
	}
	p.payload.Get("details.parts").ForEach(func(_, part gjson.Result) bool {
		if t := part.Get("title").String(); t != "" {
			parts = append(parts, t)
		}
		if b := part.Get("body").String(); b != "" {
			parts = append(parts, b)
		}
		return true
	})
	if len(parts) == 0 {
		return nil
	}
	return strings.Join(parts, "\n")
}

func (p Presenter) contentIDs(link string) interface{} {
	var out []string
	p.payload.Get("expanded_links." + link + ".#.content_id").ForEach(func(_, v gjson.Result) bool {
		out = append(out, v.String())
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

func (p Presenter) slugs(link string, prefixes ...string) interface{} {
	var out []string
	p.payload.Get("expanded_links." + link + ".#.base_path").ForEach(func(_, v gjson.Result) bool {
		slug := v.String()
		for _, prefix := range prefixes {
			slug = strings.TrimPrefix(slug, prefix)
		}
		out = append(out, slug)
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}
