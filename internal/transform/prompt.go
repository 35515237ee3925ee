package transform

import (
	"fmt"
	"strings"
)

// sampleLimit bounds how much of each reference sample reaches the
// normalization prompt.
const sampleLimit = 10000

// UnitPrompt describes one unit conversion attempt.
type UnitPrompt struct {
	SourceFormat      string
	DestinationFormat string
	Instructions      string
	SQL               string
	LastError         string
}

// Request renders the prompt as a service request.
func (p UnitPrompt) Request() Request {
	return Request{
		Instruction: p.instruction(),
		Text:        p.text(),
	}
}

func (p UnitPrompt) instruction() string {
	var prompt strings.Builder

	prompt.WriteString("You are a professional SQL migration and dialect conversion expert. ")
	prompt.WriteString("Convert CREATE TABLE statements from one database format to another.\n\n")

	prompt.WriteString("=== FORMATS ===\n")
	prompt.WriteString(fmt.Sprintf("Source: %s\n", p.SourceFormat))
	prompt.WriteString(fmt.Sprintf("Destination: %s\n", p.DestinationFormat))

	if strings.TrimSpace(p.Instructions) != "" {
		prompt.WriteString("\n=== TASK REQUIREMENTS ===\n")
		prompt.WriteString(strings.TrimSpace(p.Instructions))
		prompt.WriteString("\n")
	}

	prompt.WriteString("\n=== CONVERSION RULES ===\n")
	prompt.WriteString("1. Only convert format and syntax; never introduce tables or columns absent from the input\n")
	prompt.WriteString("2. The output must be valid and executable in the destination database\n")
	prompt.WriteString("3. Keep every column definition, table property and comment\n")
	prompt.WriteString("4. Keep the original order of statements and columns\n")
	prompt.WriteString("5. Replace unsupported features with the closest equivalent of the destination database\n")

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return a JSON object {\"text\": \"...\"} whose text field holds the converted SQL only.\n")

	return prompt.String()
}

func (p UnitPrompt) text() string {
	var prompt strings.Builder
	prompt.WriteString("=== SQL TO CONVERT ===\n")
	prompt.WriteString(p.SQL)
	prompt.WriteString("\n")
	if p.LastError != "" {
		prompt.WriteString("\n=== PREVIOUS ATTEMPT FAILED ===\n")
		prompt.WriteString(p.LastError)
		prompt.WriteString("\n")
	}
	return prompt.String()
}

// NormalizePrompt asks the service to turn free-form user instructions into
// a reusable per-unit instruction template.
type NormalizePrompt struct {
	SourceFormat      string
	DestinationFormat string
	Instructions      string
	TargetSchema      string
	MergeN            int
	SourceSample      string
	DestinationSample string
}

func (p NormalizePrompt) Request() Request {
	return Request{
		Instruction: p.instruction(),
		Text:        p.text(),
	}
}

func (p NormalizePrompt) instruction() string {
	mergeN := max(p.MergeN, 1)
	var prompt strings.Builder

	prompt.WriteString("You are a senior data warehouse and SQL migration expert. ")
	prompt.WriteString("You are NOT converting SQL now. You are writing a reusable instruction template ")
	prompt.WriteString("that will be sent, together with a slice of CREATE TABLE statements, on every later conversion call.\n\n")

	prompt.WriteString("=== BACKGROUND ===\n")
	prompt.WriteString(fmt.Sprintf("The DDL script has been split into slices of %d table(s); each slice is converted independently.\n", mergeN))

	prompt.WriteString("\n=== THE TEMPLATE MUST TELL THE MODEL TO ===\n")
	prompt.WriteString(fmt.Sprintf("1. Expect exactly %d source CREATE TABLE statement(s) per call\n", mergeN))
	prompt.WriteString("2. Treat the current slice as self-contained\n")
	prompt.WriteString("3. Follow the user rules below over any general SQL habit\n")
	prompt.WriteString("4. Map column names, types, order and comments faithfully\n")
	prompt.WriteString("5. Add audit or batch columns only when the user rules or target template demand them\n")
	prompt.WriteString("6. Drop objects that do not apply to the target (indexes, keys, storage parameters, tablespaces)\n")
	prompt.WriteString("7. Output only the target CREATE TABLE statements\n")

	prompt.WriteString("\n=== FORMATS ===\n")
	prompt.WriteString(fmt.Sprintf("Source: %s\n", p.SourceFormat))
	prompt.WriteString(fmt.Sprintf("Destination: %s\n", p.DestinationFormat))
	if p.TargetSchema != "" {
		prompt.WriteString(fmt.Sprintf("Rename every schema to: %s\n", p.TargetSchema))
	}

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return a JSON object {\"text\": \"...\"} whose text field holds the template only.\n")

	return prompt.String()
}

func (p NormalizePrompt) text() string {
	var prompt strings.Builder
	prompt.WriteString("=== USER RULES ===\n")
	prompt.WriteString(strings.TrimSpace(p.Instructions))
	prompt.WriteString("\n")
	if p.SourceSample != "" {
		prompt.WriteString("\n=== SOURCE SAMPLE ===\n")
		prompt.WriteString(truncate(p.SourceSample, sampleLimit))
		prompt.WriteString("\n")
	}
	if p.DestinationSample != "" {
		prompt.WriteString("\n=== TARGET SAMPLE ===\n")
		prompt.WriteString(truncate(p.DestinationSample, sampleLimit))
		prompt.WriteString("\n")
	}
	return prompt.String()
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
