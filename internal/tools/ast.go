package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

const (
	maxSummaryLines  = 40
	maxMethodsListed = 8
)

// ASTSummary lists the classes (with up to eight methods) and module-level
// functions of a Python file, one per line with 1-based line numbers
func ASTSummary(ctx context.Context, path string) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	// new parser per call; parsers are not safe for concurrent use
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return "", fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	var lines []string
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := unwrapDecorated(root.NamedChild(i))
		switch node.Type() {
		case "class_definition":
			lines = append(lines, fmt.Sprintf("class %s (line %d): %s",
				nodeName(node, src), node.StartPoint().Row+1, strings.Join(classMethods(node, src), ", ")))
		case "function_definition":
			lines = append(lines, fmt.Sprintf("def %s (line %d)", nodeName(node, src), node.StartPoint().Row+1))
		}
	}

	if len(lines) == 0 {
		if root.HasError() {
			return "", fmt.Errorf("syntax error in %s", path)
		}
		return "(empty or no classes/functions)", nil
	}
	if len(lines) > maxSummaryLines {
		lines = lines[:maxSummaryLines]
	}
	return strings.Join(lines, "\n"), nil
}

func unwrapDecorated(n *sitter.Node) *sitter.Node {
	if n.Type() == "decorated_definition" {
		if def := n.ChildByFieldName("definition"); def != nil {
			return def
		}
	}
	return n
}

func nodeName(n *sitter.Node, src []byte) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(src)
	}
	return "?"
}

func classMethods(class *sitter.Node, src []byte) []string {
	body := class.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var methods []string
	for i := 0; i < int(body.NamedChildCount()) && len(methods) < maxMethodsListed; i++ {
		child := unwrapDecorated(body.NamedChild(i))
		if child.Type() == "function_definition" {
			methods = append(methods, nodeName(child, src))
		}
	}
	return methods
}
