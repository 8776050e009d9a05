package ingest

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/tagger"
)

// efetch XML, reduced to the fields the extractor uses. Title and abstract
// text keep their inner markup (<i>, <sup>) and are flattened afterwards.
type articleSet struct {
	Articles []article `xml:"PubmedArticle"`
}

type article struct {
	Citation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Journal struct {
				Title   string `xml:"Title"`
				PubDate struct {
					Year        string `xml:"Year"`
					MedlineDate string `xml:"MedlineDate"`
				} `xml:"JournalIssue>PubDate"`
			} `xml:"Journal"`
			Title    innerText   `xml:"ArticleTitle"`
			Abstract []innerText `xml:"Abstract>AbstractText"`
		} `xml:"Article"`
		MeshHeadings []string `xml:"MeshHeadingList>MeshHeading>DescriptorName"`
	} `xml:"MedlineCitation"`
	ArticleIDs []struct {
		Type string `xml:"IdType,attr"`
		ID   string `xml:",chardata"`
	} `xml:"PubmedData>ArticleIdList>ArticleId"`
}

type innerText struct {
	Inner string `xml:",innerxml"`
}

func (t innerText) String() string {
	return tagger.StripMarkup(t.Inner)
}

// ParseArticleSet decodes an efetch PubmedArticleSet document
func ParseArticleSet(data []byte) ([]model.Paper, error) {
	var set articleSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode efetch XML: %w", err)
	}

	papers := make([]model.Paper, 0, len(set.Articles))
	for _, a := range set.Articles {
		c := a.Citation
		pmid := strings.TrimSpace(c.PMID)
		if pmid == "" {
			continue
		}

		var sections []string
		for _, s := range c.Article.Abstract {
			if text := s.String(); text != "" {
				sections = append(sections, text)
			}
		}

		year := strings.TrimSpace(c.Article.Journal.PubDate.Year)
		if year == "" && len(c.Article.Journal.PubDate.MedlineDate) >= 4 {
			year = c.Article.Journal.PubDate.MedlineDate[:4]
		}

		paper := model.Paper{
			PMID:      pmid,
			Title:     c.Article.Title.String(),
			Abstract:  strings.Join(sections, " "),
			Journal:   strings.TrimSpace(c.Article.Journal.Title),
			Year:      year,
			MeshTerms: c.MeshHeadings,
		}
		for _, id := range a.ArticleIDs {
			if id.Type == "doi" {
				paper.DOI = strings.TrimSpace(id.ID)
				break
			}
		}
		papers = append(papers, paper)
	}
	return papers, nil
}
