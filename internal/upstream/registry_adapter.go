package upstream

import (
	"github.com/lumenchat/chatcore/internal/generative"
	"github.com/lumenchat/chatcore/internal/tools"
)

// RegistryAdapter adapts a tools.Registry to the narrower ToolHandlers
// contract the connector depends on, so this package names its own minimal
// interface rather than importing tools' full surface into SendContext.
type RegistryAdapter struct {
	Registry *tools.Registry
}

func (a RegistryAdapter) Get(name string) (ToolHandler, bool) {
	tool, ok := a.Registry.Get(name)
	if !ok {
		return nil, false
	}
	return tool, true
}

func (a RegistryAdapter) GetDefinitions() []generative.ToolDefinition {
	names := a.Registry.List()
	definitions := make([]generative.ToolDefinition, 0, len(names))
	for _, name := range names {
		if tool, ok := a.Registry.Get(name); ok {
			definitions = append(definitions, tool.Definition())
		}
	}
	return definitions
}
