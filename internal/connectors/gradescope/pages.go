package gradescope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	submissionHref = regexp.MustCompile(`/submissions/(\d+)(?:[/?#]|$)`)
	gonRoster      = regexp.MustCompile(`(?s)gon\.roster\s*=\s*(\[.*?\]);`)
)

// submissionRow is one row of an assignment's submissions table.
type submissionRow struct {
	ID    string
	Name  string
	Email string
}

// gonMember is one entry of the roster embedded in the upload page.
type gonMember struct {
	ID    string
	Name  string
	Email string
}

func parseHTML(body []byte) (*html.Node, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return doc, nil
}

// walk visits n and its descendants depth-first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if match(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	walk(n, func(c *html.Node) bool {
		if c.Type == html.ElementNode && c.DataAtom == a {
			out = append(out, c)
		}
		return true
	})
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// text returns the whitespace-collapsed text content of n.
func text(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		return true
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

// rawText returns the text content of n unchanged.
func rawText(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

func isElement(n *html.Node, a atom.Atom) bool {
	return n.Type == html.ElementNode && n.DataAtom == a
}

// formToken returns the CSRF token of a page, preferring the meta tag.
func formToken(doc *html.Node) string {
	meta := find(doc, func(n *html.Node) bool {
		return isElement(n, atom.Meta) && attr(n, "name") == "csrf-token"
	})
	if meta != nil && attr(meta, "content") != "" {
		return attr(meta, "content")
	}
	input := find(doc, func(n *html.Node) bool {
		return isElement(n, atom.Input) && attr(n, "name") == "authenticity_token"
	})
	if input != nil {
		return attr(input, "value")
	}
	return ""
}

// signedIn reports whether the page is rendered for a signed-in user.
func signedIn(doc *html.Node) bool {
	return find(doc, func(n *html.Node) bool {
		if !isElement(n, atom.A) && !isElement(n, atom.Button) {
			return false
		}
		return strings.HasSuffix(attr(n, "href"), "/logout") || text(n) == "Log Out"
	}) != nil
}

// parseSubmissions reads the submissions table. Rows without a submission
// link (headers, students without a submission) are ignored.
func parseSubmissions(doc *html.Node) []submissionRow {
	var rows []submissionRow
	for _, tr := range findAll(doc, atom.Tr) {
		link := find(tr, func(n *html.Node) bool {
			return isElement(n, atom.A) && submissionHref.MatchString(attr(n, "href"))
		})
		if link == nil {
			continue
		}
		row := submissionRow{
			ID:   submissionHref.FindStringSubmatch(attr(link, "href"))[1],
			Name: text(link),
		}
		for _, td := range findAll(tr, atom.Td) {
			if t := text(td); strings.Contains(t, "@") && !strings.Contains(t, " ") {
				row.Email = t
				break
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// nextPage returns the page cursor of the rel="next" link, empty on the last page.
func nextPage(doc *html.Node) string {
	link := find(doc, func(n *html.Node) bool {
		return isElement(n, atom.A) && attr(n, "rel") == "next"
	})
	if link == nil {
		return ""
	}
	u, err := url.Parse(attr(link, "href"))
	if err != nil {
		return ""
	}
	return u.Query().Get("page")
}

// parseGonRoster extracts the course roster the upload page embeds for its
// owner picker.
func parseGonRoster(doc *html.Node) ([]gonMember, error) {
	for _, script := range findAll(doc, atom.Script) {
		m := gonRoster.FindStringSubmatch(rawText(script))
		if m == nil {
			continue
		}

		var raw []map[string]any
		dec := json.NewDecoder(strings.NewReader(m[1]))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse embedded roster: %w", err)
		}

		members := make([]gonMember, 0, len(raw))
		for _, r := range raw {
			members = append(members, gonMember{
				ID:    stringField(r["id"]),
				Name:  stringField(r["name"]),
				Email: stringField(r["email"]),
			})
		}
		return members, nil
	}
	return nil, nil
}

func stringField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// createdSubmissionID extracts the new submission's ID from the page the
// upload redirected to.
func createdSubmissionID(u *url.URL) string {
	if m := submissionHref.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}
