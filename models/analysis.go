package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	AnalysisStatusPending    = "pending"
	AnalysisStatusProcessing = "processing"
	AnalysisStatusCompleted  = "completed"
	AnalysisStatusFailed     = "failed"
)

// DiagramTypeUpload marks a user supplied image rather than a generated diagram.
const DiagramTypeUpload = "upload"

// Repository is the canonical {name, url} pair; url is the identity key.
type Repository struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Owner     string         `gorm:"size:255" json:"owner"`
	URL       string         `gorm:"uniqueIndex;not null" json:"url"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Analyses   []Analysis  `gorm:"foreignKey:RepositoryID" json:"analyses,omitempty"`
	Interviews []Interview `gorm:"foreignKey:RepositoryID" json:"interviews,omitempty"`
}

func (r *Repository) BeforeCreate(tx *gorm.DB) error {
	newID(&r.ID)
	return nil
}

// Analysis is one document generation run. FileContext and
// ArchitectureContext are the resumable checkpoint of the pipeline.
type Analysis struct {
	ID                  string         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID              string         `gorm:"type:uuid;not null;index" json:"user_id"`
	RepositoryID        string         `gorm:"type:uuid;not null;index" json:"repository_id"`
	Status              string         `gorm:"not null;default:'pending';index;check:status IN ('pending', 'processing', 'completed', 'failed')" json:"status"`
	Step                int            `gorm:"not null;default:1" json:"step"`
	FileContext         datatypes.JSON `json:"file_context"`
	ArchitectureContext datatypes.JSON `json:"architecture_context"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `gorm:"index" json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	User       User       `gorm:"foreignKey:UserID" json:"-"`
	Repository Repository `gorm:"foreignKey:RepositoryID" json:"repository"`
	Diagrams   []Diagram  `gorm:"foreignKey:AnalysisID" json:"diagrams,omitempty"`
	Report     *Report    `gorm:"foreignKey:AnalysisID" json:"report,omitempty"`
}

func (a *Analysis) BeforeCreate(tx *gorm.DB) error {
	newID(&a.ID)
	return nil
}

// FileAnalysis is the natural-language description of one repository file.
type FileAnalysis struct {
	Path     string `json:"path"`
	Analysis string `json:"analysis"`
}

// ArchitectureContext accumulates the narrative produced by stages 1-3.
type ArchitectureContext struct {
	Textual   string `json:"textual"`
	Structure string `json:"structure"`
	Visuals   string `json:"visuals"`
}

// Files decodes FileContext. A missing blob decodes to an empty list.
func (a *Analysis) Files() ([]FileAnalysis, error) {
	var files []FileAnalysis
	if len(a.FileContext) == 0 {
		return files, nil
	}
	if err := json.Unmarshal(a.FileContext, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// Context decodes ArchitectureContext. Missing keys default to "".
func (a *Analysis) Context() (ArchitectureContext, error) {
	var c ArchitectureContext
	if len(a.ArchitectureContext) == 0 {
		return c, nil
	}
	err := json.Unmarshal(a.ArchitectureContext, &c)
	return c, err
}

func (a *Analysis) SetFiles(files []FileAnalysis) error {
	if files == nil {
		files = []FileAnalysis{}
	}
	b, err := json.Marshal(files)
	if err != nil {
		return err
	}
	a.FileContext = datatypes.JSON(b)
	return nil
}

func (a *Analysis) SetContext(c ArchitectureContext) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	a.ArchitectureContext = datatypes.JSON(b)
	return nil
}

// Diagram is either a user uploaded image (MermaidCode empty) or a
// generated diagram with its source and rendered image.
type Diagram struct {
	ID          string         `gorm:"type:uuid;primaryKey" json:"id"`
	AnalysisID  string         `gorm:"type:uuid;not null;uniqueIndex:idx_diagram_slot" json:"analysis_id"`
	DiagramType string         `gorm:"not null;uniqueIndex:idx_diagram_slot" json:"diagram_type"`
	Slot        string         `gorm:"type:text;not null;default:'';uniqueIndex:idx_diagram_slot" json:"-"`
	Tag         string         `json:"tag,omitempty"`
	MermaidCode string         `gorm:"type:text" json:"mermaid_code,omitempty"`
	ImageURL    string         `gorm:"type:text;not null" json:"image_url"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate keys uploads by image URL. Generated diagrams share the empty
// slot, so each type is kept once per analysis.
func (d *Diagram) BeforeCreate(tx *gorm.DB) error {
	newID(&d.ID)
	d.Slot = ""
	if d.DiagramType == DiagramTypeUpload {
		d.Slot = d.ImageURL
	}
	return nil
}

// Report holds the bound book as the raw JSON string returned by the model.
type Report struct {
	ID         string         `gorm:"type:uuid;primaryKey" json:"id"`
	AnalysisID string         `gorm:"type:uuid;not null;uniqueIndex" json:"analysis_id"`
	Title      string         `json:"title"`
	Content    string         `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	newID(&r.ID)
	return nil
}
