package viewer

// Commands understood by the embedded viewer.
const (
	CmdLoadCADFile               = "loadCADFile"
	CmdSetBackgroundColor        = "setBackgroundColor"
	CmdSetHighlightColor         = "setHighlightColor"
	CmdSetRenderMode             = "setRenderMode"
	CmdSetCameraManipulationMode = "setCameraManipulationMode"
	CmdGetModelStructure         = "getModelStructure"
)

// Events pushed by the embedded viewer.
const (
	EventReady            = "ready"
	EventSelectionChanged = "selectionChanged"
)

type LoadCADFileRequest struct {
	URL string `json:"url"`
}

type ColorRequest struct {
	Color string `json:"color"`
}

type ModeRequest struct {
	Mode string `json:"mode"`
}

// ModelNode is one node of the model tree reported by the viewer.
type ModelNode struct {
	Name     string      `json:"name"`
	Path     []string    `json:"path,omitempty"`
	Children []ModelNode `json:"children,omitempty"`
}

// LoadCADFileResult is the loadCADFile response.
type LoadCADFileResult struct {
	ModelStructure ModelNode `json:"modelStructure"`
}

// SelectionChanged is the selectionChanged event payload.
type SelectionChanged struct {
	Selection [][]string `json:"selection"`
}
