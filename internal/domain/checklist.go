package domain

import "time"

// ChecklistPhase identifies which gated transition a checklist unlocks.
type ChecklistPhase string

const (
	ChecklistPhaseStart ChecklistPhase = "inicio"
	ChecklistPhaseEnd   ChecklistPhase = "fim"
)

// Valid reports whether p is a known phase.
func (p ChecklistPhase) Valid() bool {
	return p == ChecklistPhaseStart || p == ChecklistPhaseEnd
}

// ChecklistItem is a single line of the checklist.
type ChecklistItem struct {
	Name     string `json:"nome"`
	Required bool   `json:"obrigatorio"`
	Checked  bool   `json:"checked"`
}

// Checklist is the evidence record captured before a gated transition.
type Checklist struct {
	ID            string
	RequestID     string
	ProviderID    string
	Phase         ChecklistPhase
	FrontPhotoURL string
	RearPhotoURL  string
	PhotoURLs     []string // additional photos
	Items         []ChecklistItem
	Notes         string
	CreatedAt     time.Time
}

// Missing lists every unmet requirement. An empty result means the
// checklist may be submitted.
func (c *Checklist) Missing() []string {
	var missing []string
	if c.FrontPhotoURL == "" {
		missing = append(missing, "front_photo")
	}
	if c.RearPhotoURL == "" {
		missing = append(missing, "rear_photo")
	}
	for _, item := range c.Items {
		if item.Required && !item.Checked {
			missing = append(missing, "item:"+item.Name)
		}
	}
	return missing
}

// DefaultChecklistItems returns the template used when no template is configured.
func DefaultChecklistItems(phase ChecklistPhase) []ChecklistItem {
	if phase == ChecklistPhaseEnd {
		return []ChecklistItem{
			{Name: "Veículo entregue no destino", Required: true},
			{Name: "Fotos de entrega registradas", Required: true},
			{Name: "Cliente confirmou recebimento", Required: false},
			{Name: "Sem danos durante transporte", Required: true},
		}
	}
	return []ChecklistItem{
		{Name: "Veículo identificado corretamente", Required: true},
		{Name: "Fotos do veículo registradas", Required: true},
		{Name: "Danos pré-existentes documentados", Required: false},
		{Name: "Cliente informado sobre o serviço", Required: true},
	}
}
