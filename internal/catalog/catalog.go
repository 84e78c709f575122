// Package catalog loads resource catalogs: YAML or JSON files listing
// educational resources with loosely typed metadata.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/ethika/internal/resource"
)

// idNamespace seeds the UUIDv5 ids of resources that arrive without one.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/kalambet/ethika/resources"))

// EntryError reports a malformed catalog entry with its position.
type EntryError struct {
	File   string
	Line   int
	Column int
	Index  int
	Err    error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s:%d:%d: entry %d: %v", e.File, e.Line, e.Column, e.Index, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// Result is a loaded catalog. Duplicates counts entries dropped because an
// earlier entry had the same source path or title.
type Result struct {
	Resources  []resource.Resource
	Duplicates int
}

// Load reads a catalog file. Relative content_file paths resolve against
// the catalog's directory.
func Load(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes catalog data. name is used in error positions and as the
// base for relative content_file paths.
func Parse(data []byte, name string) (Result, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Result{}, fmt.Errorf("parsing catalog %s: %w", name, err)
	}
	if len(doc.Content) == 0 {
		return Result{Resources: []resource.Resource{}}, nil
	}

	list, err := resourceList(doc.Content[0])
	if err != nil {
		return Result{}, fmt.Errorf("parsing catalog %s: %w", name, err)
	}

	baseDir := filepath.Dir(name)
	seen := make(map[string]struct{}, len(list.Content))
	res := Result{Resources: make([]resource.Resource, 0, len(list.Content))}
	for i, node := range list.Content {
		r, err := decodeEntry(node, baseDir)
		if err != nil {
			return Result{}, &EntryError{File: name, Line: node.Line, Column: node.Column, Index: i, Err: err}
		}
		key := dedupeKey(r)
		if _, ok := seen[key]; ok {
			res.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		res.Resources = append(res.Resources, r)
	}
	return res, nil
}

// resourceList accepts either a top-level sequence or a mapping with a
// "resources" sequence.
func resourceList(root *yaml.Node) (*yaml.Node, error) {
	switch root.Kind {
	case yaml.SequenceNode:
		return root, nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			if root.Content[i].Value == "resources" {
				v := root.Content[i+1]
				if v.Kind != yaml.SequenceNode {
					return nil, fmt.Errorf("line %d: resources must be a list", v.Line)
				}
				return v, nil
			}
		}
		return nil, errors.New(`missing "resources" list`)
	default:
		return nil, fmt.Errorf("line %d: expected a mapping or a list", root.Line)
	}
}

func decodeEntry(node *yaml.Node, baseDir string) (resource.Resource, error) {
	if node.Kind != yaml.MappingNode {
		return resource.Resource{}, errors.New("expected a mapping")
	}
	var e entry
	if err := node.Decode(&e); err != nil {
		return resource.Resource{}, err
	}

	content := e.Content
	if e.ContentFile != "" {
		path := e.ContentFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		text, err := ExtractFile(path)
		if err != nil {
			return resource.Resource{}, err
		}
		if content != "" {
			content += "\n\n"
		}
		content += text
		if e.SourcePath == "" {
			e.SourcePath = e.ContentFile
		}
	}

	relevance := e.Relevance
	if relevance == "" {
		relevance = e.RelevanceToEthika
	}

	r := resource.Resource{
		ID:             strings.TrimSpace(e.ID),
		Title:          e.Title,
		Author:         e.Author,
		URL:            e.URL,
		Type:           e.Type.first(),
		Tags:           e.Tags,
		TargetAudience: e.TargetAudience,
		Institution:    e.Institution.first(),
		Year:           e.Year,
		KeyConcepts:    append(e.KeyConcepts, e.KeyConcept...),
		Relevance:      relevance,
		SourcePath:     e.SourcePath,
		Content:        content,
	}
	if r.ID == "" {
		r.ID = StableID(r)
	}
	return resource.Normalize(r)
}

// StableID derives a UUIDv5 from the source path, or from the normalized
// title when there is no source path.
func StableID(r resource.Resource) string {
	return uuid.NewSHA1(idNamespace, []byte(dedupeKey(r))).String()
}

func dedupeKey(r resource.Resource) string {
	if p := strings.TrimSpace(r.SourcePath); p != "" {
		return "path:" + filepath.ToSlash(filepath.Clean(p))
	}
	title := strings.TrimSpace(r.Title)
	if title == "" {
		title = resource.InferTitle(r.Content)
	}
	return "title:" + strings.ToLower(strings.Join(strings.Fields(title), " "))
}

type entry struct {
	ID                string    `yaml:"id"`
	Title             string    `yaml:"title"`
	Author            string    `yaml:"author"`
	URL               string    `yaml:"url"`
	Type              looseList `yaml:"type"`
	Tags              looseList `yaml:"tags"`
	TargetAudience    looseList `yaml:"target_audience"`
	Institution       looseList `yaml:"institution"`
	Year              string    `yaml:"year"`
	KeyConcepts       looseList `yaml:"key_concepts"`
	KeyConcept        looseList `yaml:"key_concept"`
	Relevance         string    `yaml:"relevance"`
	RelevanceToEthika string    `yaml:"relevance_to_ethika"`
	SourcePath        string    `yaml:"source_path"`
	Content           string    `yaml:"content"`
	ContentFile       string    `yaml:"content_file"`
}

// looseList accepts a single scalar or a list of scalars.
type looseList []string

func (l *looseList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" || strings.TrimSpace(n.Value) == "" {
			*l = nil
			return nil
		}
		*l = looseList{n.Value}
		return nil
	case yaml.SequenceNode:
		out := make(looseList, 0, len(n.Content))
		for _, c := range n.Content {
			if c.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: list items must be strings", c.Line)
			}
			out = append(out, c.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", n.Line)
	}
}

func (l looseList) first() string {
	for _, v := range l {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
