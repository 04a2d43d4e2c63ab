package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/wvb/internal/config"
	"github.com/kilupskalvis/wvb/internal/deadletter"
	"github.com/kilupskalvis/wvb/internal/weaviate"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new wvb project",
	Long: `Initialize a new wvb project in the current directory.
This creates a .wvb directory holding the configuration and the
dead-letter journal.`,
	Run: runInit,
}

var (
	initURL       string
	initTransport string
	initGRPCHost  string
	initBackend   string
)

func init() {
	initCmd.Flags().StringVar(&initURL, "url", "http://localhost:8080", "Weaviate server URL")
	initCmd.Flags().StringVar(&initTransport, "transport", config.TransportREST, "Batch transport (rest, grpc)")
	initCmd.Flags().StringVar(&initGRPCHost, "grpc-host", "", "Weaviate gRPC endpoint (host:port), required for the grpc transport")
	initCmd.Flags().StringVar(&initBackend, "dead-letter-backend", "bbolt", "Dead-letter journal backend (bbolt, sqlite)")
}

func runInit(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	// Check if already initialized
	if _, err := config.FindWVBRoot(); err == nil {
		exitError("wvb project already exists")
	}

	fmt.Printf("Initializing wvb project...\n")
	fmt.Printf("Weaviate URL: %s\n", initURL)

	// Test connection to Weaviate
	client, err := weaviate.NewClient(weaviate.ClientConfig{URL: initURL, Timeout: 10 * time.Second})
	if err != nil {
		exitError("failed to create Weaviate client: %v", err)
	}
	defer client.Close()

	fmt.Printf("Connecting to Weaviate...\n")
	if err := client.Ping(ctx); err != nil {
		exitError("failed to connect to Weaviate: %v", err)
	}

	yellow := color.New(color.FgYellow)

	// Detect server version
	var serverVersion string
	version, err := client.GetServerVersion(ctx)
	if err != nil {
		yellow.Printf("Warning: Could not detect Weaviate version\n")
	} else {
		serverVersion = version.Version
		fmt.Printf("Weaviate version: %s\n", version.Version)

		if initTransport == config.TransportGRPC && !version.SupportsFeature("grpc_batch") {
			yellow.Printf("Warning: Server < 1.23 has no gRPC batch endpoint, falling back to REST\n")
			initTransport = config.TransportREST
		}
		if !version.SupportsFeature("multi_vector") {
			yellow.Printf("Warning: Server < 1.29, multi-vector embeddings will be rejected\n")
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}
	cfg, err := config.Initialize(cwd, initURL)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	cfg.Weaviate.ServerVersion = serverVersion
	cfg.Weaviate.Transport = initTransport
	cfg.Weaviate.GRPCHost = initGRPCHost
	cfg.DeadLetter.Backend = initBackend
	if err := cfg.Validate(); err != nil {
		os.RemoveAll(cfg.WVBPath())
		exitError("%v", err)
	}
	if err := cfg.Save(); err != nil {
		exitError("failed to save config: %v", err)
	}

	// Create the dead-letter journal
	st, err := deadletter.Open(cfg.DeadLetter.Backend, cfg.DeadLetterPath())
	if err != nil {
		exitError("failed to create dead-letter store: %v", err)
	}
	st.Close()

	color.New(color.FgGreen).Printf("\nInitialized wvb project in .wvb/\n")
	fmt.Printf("Batching to Weaviate at %s over %s\n", initURL, cfg.Weaviate.Transport)
}
