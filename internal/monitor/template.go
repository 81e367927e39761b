package monitor

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

// TemplateData is the value rule templates are executed against
type TemplateData struct {
	RuleName   string
	MetricKind string
	Value      float64
	Threshold  float64
	Unit       string
	Severity   string
	EntityID   string
}

// Renderer builds trigger titles and messages from rule templates
type Renderer struct {
	logger *zap.Logger
}

func NewRenderer(logger *zap.Logger) *Renderer {
	return &Renderer{logger: logger.Named("renderer")}
}

// Render returns the title and message of a trigger of rule at value. Empty or
// broken templates fall back to the default text.
func (r *Renderer) Render(rule *model.AlertRule, value float64) (title, message string) {
	data := TemplateData{
		RuleName:   rule.Name,
		MetricKind: string(rule.MetricKind),
		Value:      value,
		Threshold:  rule.ThresholdValue,
		Unit:       rule.ThresholdUnit,
		Severity:   string(rule.Severity),
		EntityID:   rule.EntityID,
	}

	title = r.execute(rule.ID, "title", rule.TitleTemplate, data, DefaultTitle)
	message = r.execute(rule.ID, "message", rule.MessageTemplate, data, func(d TemplateData) string {
		return DefaultMessage(d, rule.ThresholdType)
	})
	return title, message
}

func (r *Renderer) execute(ruleID, name, text string, data TemplateData, fallback func(TemplateData) string) string {
	if strings.TrimSpace(text) == "" {
		return fallback(data)
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		r.logger.Warn("Invalid rule template, using default",
			zap.String("rule_id", ruleID),
			zap.String("template", name),
			zap.Error(err))
		return fallback(data)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		r.logger.Warn("Failed to execute rule template, using default",
			zap.String("rule_id", ruleID),
			zap.String("template", name),
			zap.Error(err))
		return fallback(data)
	}
	return buf.String()
}

// DefaultTitle is the title used when a rule has no title template
func DefaultTitle(d TemplateData) string {
	if d.Severity == "" {
		return "Alert: " + d.RuleName
	}
	return fmt.Sprintf("[%s] %s", strings.ToUpper(d.Severity), d.RuleName)
}

// DefaultMessage is the message used when a rule has no message template
func DefaultMessage(d TemplateData, thresholdType model.ThresholdType) string {
	subject := d.MetricKind
	if d.EntityID != "" {
		subject += " for " + d.EntityID
	}
	message := fmt.Sprintf("%s is %s, %s threshold of %s",
		subject, withUnit(d.Value, d.Unit), thresholdType, withUnit(d.Threshold, d.Unit))
	if d.RuleName == "" {
		return message
	}
	return d.RuleName + ": " + message
}

func withUnit(v float64, unit string) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if unit == "" {
		return s
	}
	return s + " " + unit
}
