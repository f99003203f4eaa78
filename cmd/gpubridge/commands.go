package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	"gpubridge/internal/comfy"
	"gpubridge/internal/config"
	"gpubridge/internal/history"
	"gpubridge/internal/ollama"
	"gpubridge/internal/presets"
	"gpubridge/internal/progress"
	"gpubridge/internal/system"
	"gpubridge/internal/tunnel"
)

func dispatch(ctx context.Context, cfg *config.Config, registry *tunnel.Registry, command string, args []string) error {
	switch command {
	case "status":
		return cmdStatus(ctx, cfg, registry)
	case "generate":
		return cmdGenerate(ctx, cfg, registry, args)
	case "models":
		return cmdModels(ctx, registry, args)
	case "checkpoints":
		return cmdCheckpoints(ctx, registry)
	case "loras":
		return cmdLoras(ctx, registry)
	case "analyze":
		return cmdAnalyze(ctx, registry, args)
	case "history":
		return cmdHistory(args)
	case "presets":
		return cmdPresets(cfg, args)
	case "disconnect":
		registry.CloseAll()
		fmt.Println("All tunnels closed")
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// presetsDir is where named generation presets live, next to the config
// file.
func presetsDir() string {
	return filepath.Join(filepath.Dir(config.Path()), "presets")
}

func comfyClient(ctx context.Context, registry *tunnel.Registry) (*comfy.Client, error) {
	endpoint, err := registry.ComfyEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	client := comfy.NewClient()
	client.SetBaseURL(endpoint)
	return client, nil
}

func ollamaClient(ctx context.Context, registry *tunnel.Registry) (*ollama.Client, error) {
	endpoint, err := registry.OllamaEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	client := ollama.NewClient()
	client.SetBaseURL(endpoint)
	return client, nil
}

func cmdStatus(ctx context.Context, cfg *config.Config, registry *tunnel.Registry) error {
	fmt.Printf("Remote: %s\n", cfg.SSHDestination())

	if client, err := ollamaClient(ctx, registry); err != nil {
		fmt.Printf("  ollama:  unreachable (%v)\n", err)
	} else if client.Connected(ctx) {
		fmt.Printf("  ollama:  connected\n")
	} else {
		fmt.Printf("  ollama:  tunnel up, service not responding\n")
	}

	if client, err := comfyClient(ctx, registry); err != nil {
		fmt.Printf("  comfyui: unreachable (%v)\n", err)
	} else if client.Connected(ctx) {
		fmt.Printf("  comfyui: connected\n")
	} else {
		fmt.Printf("  comfyui: tunnel up, service not responding\n")
	}

	for _, st := range registry.Status() {
		fmt.Printf("  tunnel %-8s localhost:%d -> %d (alive: %v)\n", st.Name, st.LocalPort, st.RemotePort, st.Alive)
	}

	outputDir := config.ExpandHome(cfg.Generation.OutputDir)
	vitals, err := system.GetVitals(outputDir)
	if err != nil {
		return fmt.Errorf("failed to read local vitals: %w", err)
	}
	fmt.Printf("Local: cpu %.0f%%, mem %.0f%%, output disk %.0f%% used (%s free)\n",
		vitals.CPUPercent, vitals.MemPercent, vitals.OutputDiskPercent, vitals.FreeHuman())
	return nil
}

func cmdGenerate(ctx context.Context, cfg *config.Config, registry *tunnel.Registry, args []string) error {
	defaultWidth, defaultHeight := cfg.Generation.Size()

	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	workflow := fs.String("workflow", "img2img_sdxl", "workflow template name")
	prompt := fs.String("prompt", "", "positive prompt text")
	model := fs.String("model", cfg.Generation.DefaultModel, "checkpoint name")
	image := fs.String("image", "", "local reference image to upload")
	presetName := fs.String("preset", "", "generation preset name")
	width := fs.Int("width", defaultWidth, "output width")
	height := fs.Int("height", defaultHeight, "output height")
	outputDir := fs.String("out", config.ExpandHome(cfg.Generation.OutputDir), "artifact output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	params := map[string]string{
		"model":  *model,
		"prompt": *prompt,
		"width":  strconv.Itoa(*width),
		"height": strconv.Itoa(*height),
	}
	if *presetName != "" {
		preset, err := presets.Find(presetsDir(), *presetName)
		if err != nil {
			return err
		}
		*workflow = preset.Workflow
		params = preset.Params(defaultWidth, defaultHeight)
	}
	if params["prompt"] == "" {
		return fmt.Errorf("a prompt is required (use -prompt or -preset)")
	}

	client, err := comfyClient(ctx, registry)
	if err != nil {
		return err
	}

	if *image != "" {
		name, err := client.UploadImage(ctx, *image)
		if err != nil {
			return err
		}
		params["image"] = name
	}

	template, err := comfy.WorkflowTemplate(*workflow)
	if err != nil {
		return err
	}

	events, outcome, err := client.Generate(ctx, template, params, *outputDir)
	if err != nil {
		return err
	}

	// Ctrl-C aborts the remote job instead of killing the process; the
	// stream terminating afterwards settles the outcome as interrupted.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		fmt.Println("\nInterrupting remote job...")
		if err := client.Interrupt(ctx); err != nil {
			fmt.Printf("Warning: interrupt failed: %v\n", err)
		}
		if err := client.ClearQueue(ctx); err != nil {
			fmt.Printf("Warning: queue clear failed: %v\n", err)
		}
	}()

	for ev := range events {
		if ev.Kind == progress.KindStep {
			fmt.Printf("\r%s    ", ev.Status())
			continue
		}
		fmt.Printf("\n%s", ev.Status())
	}
	fmt.Println()

	out := <-outcome
	if out.Err != nil {
		return out.Err
	}

	if _, err := history.Record(history.Generation{
		PromptID:     out.Result.PromptID,
		Workflow:     *workflow,
		Model:        params["model"],
		Prompt:       params["prompt"],
		Width:        *width,
		Height:       *height,
		ArtifactPath: out.Result.ArtifactPath,
	}); err != nil {
		fmt.Printf("Warning: failed to record generation: %v\n", err)
	}

	fmt.Printf("Saved %s\n", out.Result.ArtifactPath)
	return nil
}

func cmdModels(ctx context.Context, registry *tunnel.Registry, args []string) error {
	client, err := ollamaClient(ctx, registry)
	if err != nil {
		return err
	}

	action := "list"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "list":
		models, err := client.Models(ctx)
		if err != nil {
			return err
		}
		if len(models) == 0 {
			fmt.Println("No models installed")
			return nil
		}
		for _, m := range models {
			marker := " "
			if m.IsVision() {
				marker = "v"
			}
			fmt.Printf("%s %-30s %8s  %s\n", marker, m.Name, m.SizeHuman(), m.Details.ParameterSize)
		}
		return nil

	case "pull":
		if len(args) < 2 {
			return fmt.Errorf("usage: models pull <name>")
		}
		name := args[1]
		updates, result := client.Pull(ctx, name)
		for u := range updates {
			if u.Total > 0 {
				fmt.Printf("\r%s: %d%% (%.1f MB/s)    ", u.Status, u.Percent(), u.BytesPerSecond/(1024*1024))
			} else {
				fmt.Printf("\r%s    ", u.Status)
			}
		}
		fmt.Println()
		if err := <-result; err != nil {
			return err
		}
		fmt.Printf("Pulled %s\n", name)
		return nil

	case "rm":
		if len(args) < 2 {
			return fmt.Errorf("usage: models rm <name>")
		}
		if err := client.Delete(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[1])
		return nil

	case "show":
		if len(args) < 2 {
			return fmt.Errorf("usage: models show <name>")
		}
		show, err := client.Show(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("family: %s\nparameters: %s\nquantization: %s\n",
			show.Details.Family, show.Details.ParameterSize, show.Details.QuantizationLevel)
		return nil

	default:
		return fmt.Errorf("unknown models action %q", action)
	}
}

func cmdCheckpoints(ctx context.Context, registry *tunnel.Registry) error {
	client, err := comfyClient(ctx, registry)
	if err != nil {
		return err
	}
	names, err := client.Checkpoints(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No checkpoints installed")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func cmdLoras(ctx context.Context, registry *tunnel.Registry) error {
	client, err := comfyClient(ctx, registry)
	if err != nil {
		return err
	}
	names, err := client.Loras(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No LoRAs installed")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func cmdAnalyze(ctx context.Context, registry *tunnel.Registry, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	model := fs.String("model", "", "vision model name (default: first installed)")
	prompt := fs.String("prompt", "Describe this image in detail.", "analysis prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: analyze [flags] <image>")
	}
	imagePath := fs.Arg(0)

	client, err := ollamaClient(ctx, registry)
	if err != nil {
		return err
	}

	if *model == "" {
		vision, err := client.VisionModels(ctx)
		if err != nil {
			return err
		}
		if len(vision) == 0 {
			return fmt.Errorf("no vision model installed; pull one with: models pull llava:7b")
		}
		*model = vision[0].Name
	}

	answer, err := client.AnalyzeImage(ctx, *model, *prompt, imagePath)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 20, "number of records to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	generations, err := history.Recent(*limit)
	if err != nil {
		return err
	}
	if len(generations) == 0 {
		fmt.Println("No generations recorded")
		return nil
	}
	for _, gen := range generations {
		fmt.Printf("%s  %-16s %-24s %dx%d  %s\n",
			gen.CreatedAt.Format("2006-01-02 15:04"),
			gen.Workflow, gen.Model, gen.Width, gen.Height, gen.ArtifactPath)
	}
	return nil
}

func cmdPresets(cfg *config.Config, args []string) error {
	action := "list"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "list":
		all, err := presets.LoadDir(presetsDir())
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Printf("No presets in %s\n", presetsDir())
			return nil
		}
		for _, p := range all {
			fmt.Printf("%-16s %-16s %s\n", p.Name, p.Workflow, p.Prompt)
		}
		return nil

	case "save":
		fs := flag.NewFlagSet("presets save", flag.ExitOnError)
		name := fs.String("name", "", "preset name")
		workflow := fs.String("workflow", "img2img_sdxl", "workflow template name")
		model := fs.String("model", cfg.Generation.DefaultModel, "checkpoint name")
		prompt := fs.String("prompt", "", "positive prompt text")
		width := fs.Int("width", 0, "output width (0 uses the configured default)")
		height := fs.Int("height", 0, "output height (0 uses the configured default)")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		path, err := presets.Save(presetsDir(), presets.Preset{
			Name:     *name,
			Workflow: *workflow,
			Model:    *model,
			Prompt:   *prompt,
			Width:    *width,
			Height:   *height,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", path)
		return nil

	default:
		return fmt.Errorf("unknown presets action %q", action)
	}
}
