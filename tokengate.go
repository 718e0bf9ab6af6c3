package tokengate

import (
	"github.com/yourusername/tokengate/engine"
)

// Re-export main types for convenience
type (
	Engine = engine.Engine
	Config = engine.Config
)

// New creates a rate-limiting engine
var New = engine.New
