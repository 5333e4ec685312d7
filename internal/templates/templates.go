package templates

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"strconv"
	"strings"
	"time"
)

//go:embed views/*.html fragments/*.html
var templateFS embed.FS

func LoadTemplates() (map[string]*template.Template, error) {
	return LoadTemplatesFS(templateFS)
}

func LoadTemplatesFS(source fs.FS) (map[string]*template.Template, error) {
	layoutData, err := fs.ReadFile(source, "fragments/layout.html")
	if err != nil {
		return nil, err
	}

	fragmentFiles := []string{
		"fragments/csrf_input.html",
		"fragments/flash.html",
		"fragments/item_card.html",
		"fragments/stats_table.html",
	}

	base := template.New("layout.html").Funcs(templateFuncs())
	if _, err := base.Parse(string(layoutData)); err != nil {
		return nil, err
	}
	for _, fragment := range fragmentFiles {
		fragmentData, err := fs.ReadFile(source, fragment)
		if err != nil {
			return nil, err
		}
		if _, err := base.Parse(string(fragmentData)); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", fragment, err)
		}
	}

	files, err := fs.ReadDir(source, "views")
	if err != nil {
		return nil, err
	}

	templates := make(map[string]*template.Template)
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, ".html") {
			continue
		}

		pageData, err := fs.ReadFile(source, "views/"+name)
		if err != nil {
			return nil, err
		}

		pageTemplate, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := pageTemplate.New(name).Parse(string(pageData)); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}

		templates[name] = pageTemplate
	}

	return templates, nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"value":           valueOrEmpty,
		"dict":            dict,
		"dexNumber":       dexNumber,
		"titleName":       titleName,
		"generationLabel": generationLabel,
		"percent":         percent,
	}
}

func valueOrEmpty(value interface{}) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case *string:
		if typed == nil {
			return ""
		}
		return *typed
	case int:
		return strconv.Itoa(typed)
	case *int:
		if typed == nil {
			return ""
		}
		return strconv.Itoa(*typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case *int64:
		if typed == nil {
			return ""
		}
		return strconv.FormatInt(*typed, 10)
	case time.Time:
		if typed.IsZero() {
			return ""
		}
		return typed.Format("2006-01-02")
	case *time.Time:
		if typed == nil || typed.IsZero() {
			return ""
		}
		return typed.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", value)
	}
}

func dict(values ...interface{}) (map[string]interface{}, error) {
	if len(values)%2 != 0 {
		return nil, fmt.Errorf("dict expects even number of arguments")
	}

	data := make(map[string]interface{}, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict keys must be strings")
		}
		data[key] = values[i+1]
	}

	return data, nil
}

// dexNumber renders an id the way it is printed on cards, e.g. #0025.
func dexNumber(id int) string {
	return fmt.Sprintf("#%04d", id)
}

// titleName turns catalog slugs like "mr-mime" into "Mr Mime".
func titleName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	for i, part := range parts {
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

func generationLabel(generation int) string {
	if generation <= 0 {
		return "Unknown"
	}
	return "Gen " + strconv.Itoa(generation)
}

func percent(part, total int) string {
	if total <= 0 {
		return "0%"
	}
	return strconv.Itoa(part*100/total) + "%"
}
