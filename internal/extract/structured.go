package extract

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liliang-cn/ragstore/internal/domain"
)

// jsonToYAML renders parsed JSON as block-style YAML with the original key
// order intact. A decoder token walk is used because unmarshalling into a
// map would lose ordering.
func jsonToYAML(data []byte) (string, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	node, err := jsonValueNode(decoder)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	return marshalYAML(node)
}

func jsonValueNode(decoder *json.Decoder) (*yaml.Node, error) {
	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	return jsonTokenNode(decoder, token)
}

func jsonTokenNode(decoder *json.Decoder, token json.Token) (*yaml.Node, error) {
	switch v := token.(type) {
	case json.Delim:
		switch v {
		case '{':
			node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return nil, err
				}
				key, _ := keyToken.(string)
				valueNode, err := jsonValueNode(decoder)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, scalarString(key), valueNode)
			}
			// Consume '}'.
			if _, err := decoder.Token(); err != nil {
				return nil, err
			}
			return node, nil
		case '[':
			node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for decoder.More() {
				item, err := jsonValueNode(decoder)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, item)
			}
			if _, err := decoder.Token(); err != nil {
				return nil, err
			}
			return node, nil
		}
		return nil, fmt.Errorf("unexpected JSON delimiter %v", v)
	case string:
		return scalarString(v), nil
	case json.Number:
		tag := "!!int"
		if strings.ContainsAny(v.String(), ".eE") {
			tag = "!!float"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: v.String()}, nil
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprintf("%t", v)}, nil
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
	return nil, fmt.Errorf("unexpected JSON token %v", token)
}

// xmlToYAML renders XML as YAML: attributes become "@name" keys, character
// data becomes "#text", repeated sibling elements collapse into sequences.
func xmlToYAML(data []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return "", fmt.Errorf("%w: XML document has no root element", domain.ErrValidation)
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		if start, ok := token.(xml.StartElement); ok {
			content, err := xmlElementNode(decoder, start)
			if err != nil {
				return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
			}
			root := &yaml.Node{
				Kind:    yaml.MappingNode,
				Tag:     "!!map",
				Content: []*yaml.Node{scalarString(start.Name.Local), content},
			}
			return marshalYAML(root)
		}
	}
}

func xmlElementNode(decoder *xml.Decoder, start xml.StartElement) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	for _, attr := range start.Attr {
		node.Content = append(node.Content, scalarString("@"+attr.Name.Local), scalarString(attr.Value))
	}

	var textParts []string

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			child, err := xmlElementNode(decoder, t)
			if err != nil {
				return nil, err
			}
			appendXMLChild(node, t.Name.Local, child)
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text != "" {
				textParts = append(textParts, text)
			}
		case xml.EndElement:
			if text := strings.Join(textParts, " "); text != "" {
				if len(node.Content) == 0 {
					// Leaf element: collapse to its text.
					return scalarString(text), nil
				}
				node.Content = append(node.Content, scalarString("#text"), scalarString(text))
			}
			return node, nil
		}
	}
}

// appendXMLChild merges repeated sibling elements of the same name into a
// sequence, keeping first-occurrence position.
func appendXMLChild(parent *yaml.Node, name string, child *yaml.Node) {
	for i := 0; i+1 < len(parent.Content); i += 2 {
		if parent.Content[i].Value != name {
			continue
		}
		existing := parent.Content[i+1]
		if existing.Kind == yaml.SequenceNode && existing.Tag == "!!seq" {
			existing.Content = append(existing.Content, child)
		} else {
			parent.Content[i+1] = &yaml.Node{
				Kind:    yaml.SequenceNode,
				Tag:     "!!seq",
				Content: []*yaml.Node{existing, child},
			}
		}
		return
	}
	parent.Content = append(parent.Content, scalarString(name), child)
}

func scalarString(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func marshalYAML(node *yaml.Node) (string, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(node); err != nil {
		return "", fmt.Errorf("%w: YAML encoding failed: %v", domain.ErrValidation, err)
	}
	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("%w: YAML encoding failed: %v", domain.ErrValidation, err)
	}
	return buf.String(), nil
}
