package templates

import (
	"bytes"
	"html/template"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/matthewgall/binder/internal/dex"
	"github.com/matthewgall/binder/internal/listview"
	"github.com/matthewgall/binder/internal/models"
)

type templateFixture struct {
	Name        *string
	Count       *int
	OccurredAt  *time.Time
	OccurredRaw time.Time
}

func TestValueOrEmpty(t *testing.T) {
	if got := valueOrEmpty(nil); got != "" {
		t.Fatalf("expected empty string for nil, got %q", got)
	}

	name := "Sample"
	if got := valueOrEmpty(&name); got != "Sample" {
		t.Fatalf("expected name, got %q", got)
	}

	count := 12
	if got := valueOrEmpty(&count); got != "12" {
		t.Fatalf("expected count, got %q", got)
	}

	date := time.Date(2024, time.March, 2, 15, 4, 5, 0, time.UTC)
	if got := valueOrEmpty(&date); got != "2024-03-02" {
		t.Fatalf("expected date, got %q", got)
	}
}

func TestTemplateValueFuncAvoidsNil(t *testing.T) {
	tmpl := template.New("test").Funcs(templateFuncs())
	parsed, err := tmpl.Parse(`{{value .Name}}|{{value .Count}}|{{value .OccurredAt}}|{{value .OccurredRaw}}`)
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}

	var buf bytes.Buffer
	if err := parsed.Execute(&buf, templateFixture{}); err != nil {
		t.Fatalf("execute template: %v", err)
	}

	if got := buf.String(); got != "|||" {
		t.Fatalf("expected empty fields, got %q", got)
	}
}

func TestFormatHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"dex number pads", dexNumber(25), "#0025"},
		{"dex number wide", dexNumber(10001), "#10001"},
		{"title hyphenated", titleName("mr-mime"), "Mr Mime"},
		{"title plain", titleName("pikachu"), "Pikachu"},
		{"generation known", generationLabel(3), "Gen 3"},
		{"generation unknown", generationLabel(0), "Unknown"},
		{"percent", percent(1, 3), "33%"},
		{"percent empty", percent(0, 0), "0%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestLoadTemplates(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}

	for _, name := range []string{"login.html", "loading.html", "list.html", "confirm.html", "error.html"} {
		if _, ok := templates[name]; !ok {
			t.Errorf("missing template %s", name)
		}
	}
	if _, ok := templates["layout.html"]; ok {
		t.Error("layout should not be registered as a page")
	}
}

func TestListRendersEntries(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}

	snapshot := listview.Snapshot{
		Entries: []listview.Entry{
			{Item: models.Item{ID: 1, Name: "bulbasaur", ImageURL: "/media/sprites/1", Generation: 1}, Owned: true, Location: dex.Locate(1)},
			{Item: models.Item{ID: 25, Name: "pikachu", ImageURL: "/media/sprites/25", Generation: 1}, Location: dex.Locate(25)},
		},
		Filter:     listview.Filter{SearchText: "pi", DebouncedSearchText: "pi", OnlyOwned: true},
		Catalog:    listview.StateReady,
		Ownership:  listview.StateOwnershipFailed,
		Stats:      []models.GenerationStat{{Generation: 1, Total: 151, Owned: 1, Missing: 150}},
		OwnedCount: 1,
		Total:      2,
	}

	var buf bytes.Buffer
	err = templates["list.html"].ExecuteTemplate(&buf, "list.html", map[string]interface{}{
		"Title":      "Binder",
		"AppName":    "Binder",
		"Version":    "test",
		"CSRFToken":  "v1.1.token",
		"isLoggedIn": true,
		"Snapshot":   snapshot,
	})
	if err != nil {
		t.Fatalf("execute template: %v", err)
	}

	doc, err := html.Parse(&buf)
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}

	cards := findAll(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "article" && strings.Contains(attr(n, "class"), "card")
	})
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(cards))
	}
	if attr(cards[0], "data-owned") != "true" || !strings.Contains(attr(cards[0], "class"), "owned") {
		t.Errorf("first card should be owned: %q", attr(cards[0], "class"))
	}
	if attr(cards[1], "data-owned") != "false" {
		t.Errorf("second card should not be owned")
	}
	if text := textContent(cards[0]); !strings.Contains(text, "P1 • F1 • Pos 1") || !strings.Contains(text, "#0001") {
		t.Errorf("first card missing location or number: %q", text)
	}

	csrf := findAll(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "input" && attr(n, "name") == "csrf_token"
	})
	if len(csrf) == 0 || attr(csrf[0], "value") != "v1.1.token" {
		t.Error("forms should carry the csrf token")
	}

	rows := findAll(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "tr" && attr(n, "data-generation") != ""
	})
	if len(rows) != 1 || attr(rows[0], "data-generation") != "1" {
		t.Errorf("expected one generation row, got %d", len(rows))
	}

	if !strings.Contains(textContent(doc), "Your collection could not be loaded") {
		t.Error("ownership failure should be surfaced")
	}
}

func TestConfirmRendersAction(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}

	var buf bytes.Buffer
	err = templates["confirm.html"].ExecuteTemplate(&buf, "confirm.html", map[string]interface{}{
		"Title":     "Confirm",
		"AppName":   "Binder",
		"CSRFToken": "token",
		"Prompt": listview.Prompt{
			Item:   models.Item{ID: 4, Name: "charmander"},
			Action: models.ActionAdd,
			Label:  models.ActionAdd.Label(),
		},
		"ImageURL": "/media/sprites/4",
		"Location": dex.Locate(4).String(),
	})
	if err != nil {
		t.Fatalf("execute template: %v", err)
	}

	doc, err := html.Parse(&buf)
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}

	forms := findAll(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "form" && attr(n, "action") == "/items/4/toggle"
	})
	if len(forms) != 1 {
		t.Fatalf("expected toggle form, got %d", len(forms))
	}
	actions := findAll(forms[0], func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "input" && attr(n, "name") == "action"
	})
	if len(actions) != 1 || attr(actions[0], "value") != "add" {
		t.Error("toggle form should carry the add action")
	}
	if !strings.Contains(textContent(forms[0]), "Mark as owned") {
		t.Error("toggle button should use the action label")
	}
}

func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var found []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			found = append(found, n)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return found
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}
