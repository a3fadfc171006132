package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/recast/internal/model"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Create a queued generation run",
	Long:  "Create a queued generation run for a requester. The run is not started; use 'process' or the HTTP API to start it.",
	RunE:  runEnqueue,
}

var (
	enqRequester   string
	enqFormat      string
	enqTone        string
	enqLength      string
	enqLanguage    string
	enqInstruction string
	enqPresenter   string
	enqProfile     model.RequesterProfile
)

func init() {
	f := enqueueCmd.Flags()
	f.StringVar(&enqRequester, "requester", "", "Requester ID (required)")
	f.StringVar(&enqFormat, "format", "video", "Output format: video, podcast, or slides")
	f.StringVar(&enqTone, "tone", string(model.ToneProfessional), "Tone: professional, conversational, enthusiastic, authoritative, friendly")
	f.StringVar(&enqLength, "length", string(model.LengthMedium), "Length: short, medium, or long")
	f.StringVar(&enqLanguage, "language", "", "Language code, default en")
	f.StringVar(&enqInstruction, "instruction", "", "Extra free-text instruction")
	f.StringVar(&enqPresenter, "presenter", "", "Presenter name for video and podcast scripts")
	f.StringVar(&enqProfile.Role, "role", "", "Requester role")
	f.StringVar(&enqProfile.Segment, "segment", "", "Requester customer segment")
	f.StringVar(&enqProfile.Geography, "geography", "", "Requester geography")
	f.StringVar(&enqProfile.Function, "function", "", "Requester business function")
	_ = enqueueCmd.MarkFlagRequired("requester")

	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, _ []string) error {
	format, err := model.ParseFormat(enqFormat)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, _, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := db.CreateRun(ctx, model.CreateRunRequest{
		RequesterID: enqRequester,
		Customization: model.Customization{
			Format:           format,
			Language:         enqLanguage,
			Tone:             model.Tone(enqTone),
			Length:           model.Length(enqLength),
			ExtraInstruction: enqInstruction,
		},
		Profile:       enqProfile,
		PresenterName: enqPresenter,
	})
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), run)
}
