// pkg/registry/schema.go
package registry

// FlowRegistry lists every exchange flow the router serves.
type FlowRegistry struct {
	Version     string `json:"version"`
	LastUpdated string `json:"lastUpdated"`
	Flows       []Flow `json:"flows"`
}

type Flow struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description"`
	Audience    string   `json:"audience"` // customer | vendor
	EntryScreen string   `json:"entryScreen"`
	Screens     []string `json:"screens"`
	Actions     []Action `json:"actions"`
}

type Action struct {
	ID           string                 `json:"id"`
	Description  string                 `json:"description"`
	NextScreens  []string               `json:"nextScreens"`
	Mutating     bool                   `json:"mutating"`
	FieldsSchema map[string]interface{} `json:"fieldsSchema,omitempty"`
}
