package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/saferollout/internal/client"
	"github.com/TimurManjosov/saferollout/internal/rollout"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// PrintRollouts outputs safe rollouts in the specified format
func PrintRollouts(rollouts []rollout.SafeRollout, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(map[string][]rollout.SafeRollout{"rollouts": rollouts})
	case FormatYAML:
		return printYAML(rollouts)
	case FormatTable:
		return printRolloutTable(rollouts)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintRollout outputs a single safe rollout in the specified format
func PrintRollout(r *rollout.SafeRollout, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(r)
	case FormatYAML:
		return printYAML(r)
	case FormatTable:
		return printRolloutTable([]rollout.SafeRollout{*r})
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintStaleReport outputs the staleness report in the specified format
func PrintStaleReport(report *client.StaleReport, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(report)
	case FormatYAML:
		return printYAML(report)
	case FormatTable:
		return printStaleTable(report)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(data interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printRolloutTable(rollouts []rollout.SafeRollout) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Feature", "Env", "Status", "Step", "Ramp", "Next Update")

	for _, r := range rollouts {
		ramp := "disabled"
		if r.RampUpSchedule.Enabled {
			if r.RampUpSchedule.RampUpCompleted {
				ramp = "completed"
			} else if s := r.RampUpSchedule.Step; s >= 0 && s < len(r.RampUpSchedule.Steps) {
				ramp = fmt.Sprintf("%.0f%%", r.RampUpSchedule.Steps[s].Percent*100)
			}
		}

		next := "-"
		if r.RampUpSchedule.NextUpdate != nil {
			next = r.RampUpSchedule.NextUpdate.Format("2006-01-02 15:04")
		}

		table.Append(
			r.ID,
			r.FeatureID,
			r.Environment,
			string(r.Status),
			fmt.Sprintf("%d/%d", r.RampUpSchedule.Step+1, len(r.RampUpSchedule.Steps)),
			ramp,
			next,
		)
	}

	return table.Render()
}

func printStaleTable(report *client.StaleReport) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Owner", "Stale", "Reason", "Updated At")

	for _, f := range report.Features {
		stale := "-"
		if f.Stale != nil {
			stale = fmt.Sprintf("%t", *f.Stale)
		}
		table.Append(
			f.ID,
			f.Owner,
			stale,
			f.Reason,
			f.DateUpdated.Format("2006-01-02 15:04"),
		)
	}

	if err := table.Render(); err != nil {
		return err
	}
	fmt.Printf("showing %d of %d (offset %d)\n", len(report.Features), report.Total, report.Offset)
	return nil
}
