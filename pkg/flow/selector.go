package flow

import "gopkg.in/yaml.v3"

// Selector represents element selection criteria on a web page.
// Pure data structure - drivers decide how to resolve it.
type Selector struct {
	Text            string `yaml:"text"` // Visible text (substring, whitespace-normalized)
	ID              string `yaml:"id"`
	CSS             string `yaml:"css"`
	Name            string `yaml:"name"`
	XPath           string `yaml:"xpath"`
	LinkText        string `yaml:"linkText"`
	PartialLinkText string `yaml:"partialLinkText"`
	Placeholder     string `yaml:"placeholder"` // Case-insensitive substring of the placeholder attribute

	// Index for multiple matches (string for variable support)
	Index string `yaml:"index"`

	// State filters
	Enabled *bool `yaml:"enabled"`
}

// selectorRaw avoids recursing into UnmarshalYAML.
type selectorRaw struct {
	Text            string `yaml:"text"`
	Element         string `yaml:"element"` // Shorthand for text
	ID              string `yaml:"id"`
	CSS             string `yaml:"css"`
	Name            string `yaml:"name"`
	XPath           string `yaml:"xpath"`
	LinkText        string `yaml:"linkText"`
	PartialLinkText string `yaml:"partialLinkText"`
	Placeholder     string `yaml:"placeholder"`
	Index           string `yaml:"index"`
	Enabled         *bool  `yaml:"enabled"`
}

// UnmarshalYAML allows Selector to be unmarshaled from string or struct.
// Steps embed Selector inline, so the node here is the whole step mapping;
// unknown keys are ignored.
func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Text = node.Value
		return nil
	}

	var raw selectorRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}

	*s = Selector{
		Text:            raw.Text,
		ID:              raw.ID,
		CSS:             raw.CSS,
		Name:            raw.Name,
		XPath:           raw.XPath,
		LinkText:        raw.LinkText,
		PartialLinkText: raw.PartialLinkText,
		Placeholder:     raw.Placeholder,
		Index:           raw.Index,
		Enabled:         raw.Enabled,
	}
	if raw.Element != "" && s.Text == "" {
		s.Text = raw.Element
	}
	return nil
}

// IsEmpty returns true if no selector properties are set.
func (s *Selector) IsEmpty() bool {
	return s.Text == "" &&
		s.ID == "" &&
		s.CSS == "" &&
		s.Name == "" &&
		s.XPath == "" &&
		s.LinkText == "" &&
		s.PartialLinkText == "" &&
		s.Placeholder == ""
}

// Describe returns a human-readable description.
func (s *Selector) Describe() string {
	switch {
	case s.ID != "":
		return "#" + s.ID
	case s.CSS != "":
		return "css:" + s.CSS
	case s.Name != "":
		return "name:" + s.Name
	case s.XPath != "":
		return "xpath:" + s.XPath
	case s.LinkText != "":
		return "link:" + s.LinkText
	case s.PartialLinkText != "":
		return "link*:" + s.PartialLinkText
	case s.Placeholder != "":
		return "placeholder:" + s.Placeholder
	default:
		return s.Text
	}
}

// DescribeQuoted returns a quoted description like id="value".
func (s *Selector) DescribeQuoted() string {
	key, value := s.Primary()
	if key == "" {
		return ""
	}
	return key + "=\"" + value + "\""
}

// Primary returns the selector key that wins resolution, in priority
// order id > css > name > xpath > linkText > partialLinkText > placeholder > text.
func (s *Selector) Primary() (key, value string) {
	switch {
	case s.ID != "":
		return "id", s.ID
	case s.CSS != "":
		return "css", s.CSS
	case s.Name != "":
		return "name", s.Name
	case s.XPath != "":
		return "xpath", s.XPath
	case s.LinkText != "":
		return "linkText", s.LinkText
	case s.PartialLinkText != "":
		return "partialLinkText", s.PartialLinkText
	case s.Placeholder != "":
		return "placeholder", s.Placeholder
	case s.Text != "":
		return "text", s.Text
	default:
		return "", ""
	}
}
