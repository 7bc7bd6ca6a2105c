package llm

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"chat-relay/internal/domain"
)

// DefaultModelID es el modelo usado cuando la peticion no indica uno.
const DefaultModelID = "deepseek-r1-250120"

// Model describe un modelo disponible y sus parametros de muestreo.
type Model struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	MaxTokens   int     `yaml:"max_tokens" json:"-"`
	Temperature float64 `yaml:"temperature" json:"-"`
	TopP        float64 `yaml:"top_p" json:"-"`
}

// Catalog es la lista inmutable de modelos habilitados.
type Catalog struct {
	models    []Model
	byID      map[string]Model
	defaultID string
}

type catalogFile struct {
	Default string  `yaml:"default"`
	Models  []Model `yaml:"models"`
}

var defaultModels = []Model{
	{
		ID:          "deepseek-r1-250120",
		Name:        "DeepSeek R1",
		Description: "DeepSeek R1 250120 release with strong text understanding and generation",
		MaxTokens:   2000,
		Temperature: 0.7,
		TopP:        0.95,
	},
	{
		ID:          "spark-3.5",
		Name:        "iFlytek Spark",
		Description: "iFlytek Spark 3.5, strong at Chinese comprehension and writing",
		MaxTokens:   1500,
		Temperature: 0.8,
		TopP:        0.9,
	},
	{
		ID:          "qwen-max",
		Name:        "Qwen Max",
		Description: "Alibaba Qwen Max, a general purpose assistant",
		MaxTokens:   2000,
		Temperature: 0.7,
		TopP:        0.95,
	},
}

// NewCatalog valida los modelos y el default.
func NewCatalog(models []Model, defaultID string) (*Catalog, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("catalog: no models")
	}
	byID := make(map[string]Model, len(models))
	for _, m := range models {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			return nil, fmt.Errorf("catalog: model without id")
		}
		if _, dup := byID[m.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate model %q", m.ID)
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		byID[m.ID] = m
	}
	defaultID = strings.TrimSpace(defaultID)
	if defaultID == "" {
		defaultID = models[0].ID
	}
	if _, ok := byID[defaultID]; !ok {
		return nil, fmt.Errorf("catalog: default model %q: %w", defaultID, ErrUnknownModel)
	}
	ordered := make([]Model, 0, len(models))
	for _, m := range models {
		ordered = append(ordered, byID[strings.TrimSpace(m.ID)])
	}
	return &Catalog{models: ordered, byID: byID, defaultID: defaultID}, nil
}

// DefaultCatalog devuelve los modelos incluidos en el binario.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultModels, DefaultModelID)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog lee el catalogo desde un archivo YAML. defaultID, si no es vacio,
// tiene prioridad sobre el default del archivo.
func LoadCatalog(path, defaultID string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if strings.TrimSpace(defaultID) == "" {
		defaultID = file.Default
	}
	return NewCatalog(file.Models, defaultID)
}

func (c *Catalog) DefaultID() string {
	return c.defaultID
}

// Models devuelve una copia en el orden declarado.
func (c *Catalog) Models() []Model {
	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

// Resolve busca el modelo; id vacio resuelve al default.
func (c *Catalog) Resolve(id string) (Model, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = c.defaultID
	}
	m, ok := c.byID[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return m, nil
}

// Identity traduce un id reportado por el proveedor a una identidad con nombre.
func (c *Catalog) Identity(id string) *domain.ModelIdentity {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if m, ok := c.byID[id]; ok {
		return &domain.ModelIdentity{ID: m.ID, Name: m.Name}
	}
	return &domain.ModelIdentity{ID: id, Name: id}
}
