package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vinci4d/engine/pkg/api"
	"github.com/vinci4d/engine/pkg/client"
	"github.com/vinci4d/engine/pkg/deploy"
	"github.com/vinci4d/engine/pkg/errdefs"
	"github.com/vinci4d/engine/pkg/log"
	"github.com/vinci4d/engine/pkg/manager"
	"github.com/vinci4d/engine/pkg/metrics"
	"github.com/vinci4d/engine/pkg/supervisor"
	"github.com/vinci4d/engine/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vinci4d",
	Short: "Vinci4D - Grid compute engine for batch function execution",
	Long: `Vinci4D is a distributed compute engine that runs user functions
across grids of workers. Functions are split into batched tasks,
workers claim tasks atomically against a per-worker resource ledger,
and the control plane replicates all state through Raft.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Vinci4D version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("manager", "localhost:8080", "Manager API address")

	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(gridCmd)
	rootCmd.AddCommand(functionCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(taskCmd)
}

func apiClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("manager")
	return client.NewClient(addr)
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

// Cluster commands

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the Vinci4D control plane",
}

var clusterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new cluster with this node as the first control node",
	Long: `Initialize a new Vinci4D cluster with this node as the first control node.

The node bootstraps a single-member Raft cluster and starts serving the
REST API. Additional control nodes can join later with 'vinci4d cluster join'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControlNode(cmd, true, "")
	},
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join this node to an existing cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			return fmt.Errorf("--token is required")
		}
		return runControlNode(cmd, false, token)
	},
}

var clusterJoinTokenCmd = &cobra.Command{
	Use:   "join-token [worker|control]",
	Short: "Generate a join token for workers or control nodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := args[0]
		if role != "worker" && role != "control" {
			return fmt.Errorf("role must be 'worker' or 'control'")
		}

		token, err := apiClient(cmd).GenerateJoinToken(role)
		if err != nil {
			return err
		}
		fmt.Printf("Join token (%s, valid 24h):\n%s\n", role, token)
		return nil
	},
}

var clusterServersCmd = &cobra.Command{
	Use:   "servers",
	Short: "List Raft cluster membership",
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, err := apiClient(cmd).ListClusterServers()
		if err != nil {
			return err
		}

		w := newTabWriter()
		fmt.Fprintln(w, "ID\tADDRESS\tSUFFRAGE")
		for _, srv := range servers {
			fmt.Fprintf(w, "%v\t%v\t%v\n", srv["id"], srv["address"], srv["suffrage"])
		}
		return w.Flush()
	},
}

func runControlNode(cmd *cobra.Command, bootstrap bool, token string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	namespace, _ := cmd.Flags().GetString("namespace")
	kubeconfig, _ := cmd.Flags().GetString("kubeconfig")
	noDeploy, _ := cmd.Flags().GetBool("no-deploy")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	fmt.Printf("Starting Vinci4D control node...\n")
	fmt.Printf("  Node ID: %s\n", nodeID)
	fmt.Printf("  Raft Address: %s\n", bindAddr)
	fmt.Printf("  API Address: %s\n", apiAddr)
	fmt.Printf("  Data Directory: %s\n", dataDir)
	fmt.Println()

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   nodeID,
		BindAddr: bindAddr,
		DataDir:  dataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %v", err)
	}

	if bootstrap {
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %v", err)
		}
		fmt.Println("✓ Cluster initialized")
	} else {
		leaderAddr, _ := cmd.Flags().GetString("manager")
		join := func(nodeID, raftAddr, token string) error {
			return client.NewClient(leaderAddr).JoinCluster(nodeID, raftAddr, token)
		}
		if err := mgr.Join(join, token); err != nil {
			return err
		}
		fmt.Println("✓ Joined cluster")
	}

	// Worker deployer: raft mutations enqueue deploys, the dispatcher
	// retries them against Kubernetes in the background
	var dispatcher *deploy.Dispatcher
	if !noDeploy {
		kube, err := deploy.NewKubeDeployer(namespace, kubeconfig)
		if err != nil {
			return fmt.Errorf("failed to create Kubernetes deployer: %v", err)
		}
		kube.EngineURL, _ = cmd.Flags().GetString("engine-url")
		kube.ArtifactoryURL, _ = cmd.Flags().GetString("artifactory-url")
		dispatcher = deploy.NewDispatcher(kube, mgr.GetEventBroker(), deploy.DispatcherConfig{})
		dispatcher.Start()
		mgr.SetDeployer(dispatcher)
		fmt.Println("✓ Worker deployer started")
	}

	sup := supervisor.New(mgr, supervisor.Config{})
	sup.Start()
	fmt.Println("✓ Supervisor started")

	collector := metrics.NewCollector(mgr)
	collector.Start()
	fmt.Println("✓ Metrics collector started")

	apiServer := api.NewServer(mgr)
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(apiAddr); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()

	fmt.Println()
	fmt.Println("Control node is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(ctx)
	collector.Stop()
	sup.Stop()
	if dispatcher != nil {
		dispatcher.Stop()
	}
	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

func init() {
	clusterCmd.AddCommand(clusterInitCmd)
	clusterCmd.AddCommand(clusterJoinCmd)
	clusterCmd.AddCommand(clusterJoinTokenCmd)
	clusterCmd.AddCommand(clusterServersCmd)

	for _, c := range []*cobra.Command{clusterInitCmd, clusterJoinCmd} {
		c.Flags().String("node-id", "control-1", "Unique node ID")
		c.Flags().String("bind-addr", "127.0.0.1:7946", "Address for Raft communication")
		c.Flags().String("api-addr", "127.0.0.1:8080", "Address for the REST API")
		c.Flags().String("data-dir", "./vinci4d-data", "Data directory for cluster state")
		c.Flags().String("namespace", "vinci4d", "Kubernetes namespace for worker pods")
		c.Flags().String("kubeconfig", "", "Path to kubeconfig (empty for in-cluster)")
		c.Flags().Bool("no-deploy", false, "Run without a Kubernetes worker deployer")
		c.Flags().String("engine-url", "", "Engine URL advertised to worker pods")
		c.Flags().String("artifactory-url", "", "Artifact store URL advertised to worker pods")
		c.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
		c.Flags().Bool("log-json", false, "Emit JSON logs")
	}
	clusterJoinCmd.Flags().String("token", "", "Join token from an existing control node")
}

// Grid commands

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Manage compute grids",
}

var gridCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new grid and provision its workers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		length, _ := cmd.Flags().GetInt("length")
		width, _ := cmd.Flags().GetInt("width")

		grid, err := apiClient(cmd).CreateGrid(args[0], length, width)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Grid created: %s (UID: %s, %dx%d = %d workers)\n",
			grid.Name, grid.UID, grid.Length, grid.Width, grid.Capacity())
		fmt.Println("Workers are provisioning in the background.")
		return nil
	},
}

var gridListCmd = &cobra.Command{
	Use:   "list",
	Short: "List grids",
	RunE: func(cmd *cobra.Command, args []string) error {
		grids, err := apiClient(cmd).ListGrids()
		if err != nil {
			return err
		}

		w := newTabWriter()
		fmt.Fprintln(w, "UID\tNAME\tSIZE\tSTATUS\tWORKERS\tBUSY\tUTIL")
		for _, g := range grids {
			fmt.Fprintf(w, "%s\t%s\t%dx%d\t%s\t%d\t%d\t%.0f%%\n",
				g.UID, g.Name, g.Length, g.Width, g.Status,
				g.WorkerCount, g.BusyWorkers, g.Utilization)
		}
		return w.Flush()
	},
}

var gridActivateCmd = &cobra.Command{
	Use:   "activate UID",
	Short: "Bring a grid online",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		grid, err := apiClient(cmd).ActivateGrid(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Grid %s is %s\n", grid.Name, grid.Status)
		return nil
	},
}

var gridPauseCmd = &cobra.Command{
	Use:   "pause UID",
	Short: "Take a grid offline without destroying it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		grid, err := apiClient(cmd).PauseGrid(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Grid %s is %s\n", grid.Name, grid.Status)
		return nil
	},
}

var gridTerminateCmd = &cobra.Command{
	Use:   "terminate UID",
	Short: "Destroy a grid and all its workers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		grid, err := apiClient(cmd).TerminateGrid(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Grid %s terminated\n", grid.Name)
		return nil
	},
}

var gridWorkersCmd = &cobra.Command{
	Use:   "workers UID",
	Short: "List the workers of a grid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, err := apiClient(cmd).ListGridWorkers(args[0])
		if err != nil {
			return err
		}
		return printWorkers(workers)
	},
}

func init() {
	gridCmd.AddCommand(gridCreateCmd)
	gridCmd.AddCommand(gridListCmd)
	gridCmd.AddCommand(gridActivateCmd)
	gridCmd.AddCommand(gridPauseCmd)
	gridCmd.AddCommand(gridTerminateCmd)
	gridCmd.AddCommand(gridWorkersCmd)

	gridCreateCmd.Flags().Int("length", 1, "Grid length (rows of workers)")
	gridCreateCmd.Flags().Int("width", 1, "Grid width (columns of workers)")
}

// Function commands

var functionCmd = &cobra.Command{
	Use:   "function",
	Short: "Manage functions",
}

var functionCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Register a function on a grid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gridUID, _ := cmd.Flags().GetString("grid")
		scriptPath, _ := cmd.Flags().GetString("script")
		image, _ := cmd.Flags().GetString("image")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		cpu, _ := cmd.Flags().GetFloat64("cpu")
		memoryMB, _ := cmd.Flags().GetInt64("memory-mb")
		gpu, _ := cmd.Flags().GetBool("gpu")
		timeout, _ := cmd.Flags().GetInt("timeout")

		fn, err := apiClient(cmd).CreateFunction(&types.Function{
			Name:        args[0],
			GridUID:     gridUID,
			ScriptPath:  scriptPath,
			DockerImage: image,
			BatchSize:   batchSize,
			Resources: types.ResourceRequirements{
				CPU:            cpu,
				MemoryMB:       memoryMB,
				GPU:            gpu,
				TimeoutSeconds: timeout,
			},
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Function created: %s (UID: %s)\n", fn.Name, fn.UID)
		return nil
	},
}

var functionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List functions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fns, err := apiClient(cmd).ListFunctions()
		if err != nil {
			return err
		}

		w := newTabWriter()
		fmt.Fprintln(w, "UID\tNAME\tGRID\tSTATUS\tBATCH\tCPU\tMEM (MB)")
		for _, f := range fns {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.1f\t%d\n",
				f.UID, f.Name, f.GridUID, f.Status, f.BatchSize,
				f.Resources.CPU, f.Resources.MemoryMB)
		}
		return w.Flush()
	},
}

var functionStartCmd = &cobra.Command{
	Use:   "start UID INPUT...",
	Short: "Batch inputs into tasks and start execution",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs := make([]interface{}, 0, len(args)-1)
		for _, raw := range args[1:] {
			inputs = append(inputs, parseInput(raw))
		}

		fn, tasks, err := apiClient(cmd).StartFunction(args[0], inputs, nil)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Function %s started: %d inputs across %d tasks\n",
			fn.Name, len(inputs), tasks)
		return nil
	},
}

var functionCancelCmd = &cobra.Command{
	Use:   "cancel UID",
	Short: "Cancel a running function",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fn, cancelled, err := apiClient(cmd).CancelFunction(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Function %s cancelled (%d tasks cancelled)\n", fn.Name, len(cancelled))
		return nil
	},
}

var functionTasksCmd = &cobra.Command{
	Use:   "tasks UID",
	Short: "List the tasks of a function",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := apiClient(cmd).ListFunctionTasks(args[0])
		if err != nil {
			return err
		}

		w := newTabWriter()
		fmt.Fprintln(w, "UID\tBATCH\tINPUTS\tSTATUS\tWORKER\tERROR")
		for _, task := range tasks {
			fmt.Fprintf(w, "%s\t%d/%d\t[%d:%d)\t%s\t%s\t%s\n",
				task.UID, task.Data.BatchIndex+1, task.Data.BatchTotal,
				task.Data.InputStart, task.Data.InputEnd, task.Status, task.WorkerUID, task.Error)
		}
		return w.Flush()
	},
}

var functionDeleteCmd = &cobra.Command{
	Use:   "delete UID",
	Short: "Delete a terminal function and its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).DeleteFunction(args[0]); err != nil {
			return err
		}
		fmt.Println("✓ Function deleted")
		return nil
	},
}

func init() {
	functionCmd.AddCommand(functionCreateCmd)
	functionCmd.AddCommand(functionListCmd)
	functionCmd.AddCommand(functionStartCmd)
	functionCmd.AddCommand(functionCancelCmd)
	functionCmd.AddCommand(functionTasksCmd)
	functionCmd.AddCommand(functionDeleteCmd)

	functionCreateCmd.Flags().String("grid", "", "Grid UID to run on")
	functionCreateCmd.Flags().String("script", "", "Script path in the script store")
	functionCreateCmd.Flags().String("image", "", "Docker image for workers (default python:3.11-slim)")
	functionCreateCmd.Flags().Int("batch-size", 1, "Inputs per task")
	functionCreateCmd.Flags().Float64("cpu", 1.0, "CPU cores required per task")
	functionCreateCmd.Flags().Int64("memory-mb", 1024, "Memory (MB) required per task")
	functionCreateCmd.Flags().Bool("gpu", false, "Require a GPU")
	functionCreateCmd.Flags().Int("timeout", 0, "Task timeout in seconds (0 = no limit)")
	_ = functionCreateCmd.MarkFlagRequired("grid")
	_ = functionCreateCmd.MarkFlagRequired("script")
}

// Worker commands

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage workers",
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		gridUID, _ := cmd.Flags().GetString("grid")
		status, _ := cmd.Flags().GetString("status")

		workers, err := apiClient(cmd).ListWorkers(gridUID, status)
		if err != nil {
			return err
		}
		return printWorkers(workers)
	},
}

var workerOnlineCmd = &cobra.Command{
	Use:   "online UID",
	Short: "Mark a worker ready to claim tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		worker, err := apiClient(cmd).SetWorkerOnline(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Worker %s is %s\n", worker.Name, worker.Status)
		return nil
	},
}

var workerOfflineCmd = &cobra.Command{
	Use:   "offline UID",
	Short: "Take a worker out of the claim pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		worker, err := apiClient(cmd).SetWorkerOffline(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Worker %s is %s\n", worker.Name, worker.Status)
		return nil
	},
}

func printWorkers(workers []*types.Worker) error {
	w := newTabWriter()
	fmt.Fprintln(w, "UID\tNAME\tSTATUS\tCPU\tMEM (MB)\tFREE CPU\tFREE MEM (MB)")
	for _, worker := range workers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%d\t%.1f\t%d\n",
			worker.UID, worker.Name, worker.Status,
			worker.CPUTotal, worker.MemoryTotalMB,
			worker.CPUAvailable, worker.MemoryAvailableMB)
	}
	return w.Flush()
}

func init() {
	workerCmd.AddCommand(workerListCmd)
	workerCmd.AddCommand(workerOnlineCmd)
	workerCmd.AddCommand(workerOfflineCmd)

	workerListCmd.Flags().String("grid", "", "Filter by grid UID")
	workerListCmd.Flags().String("status", "", "Filter by status")
}

// Task commands

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and drive tasks",
}

var taskGetCmd = &cobra.Command{
	Use:   "get UID",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := apiClient(cmd).GetTask(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("UID:      %s\n", task.UID)
		fmt.Printf("Function: %s\n", task.FunctionUID)
		fmt.Printf("Batch:    %d/%d (inputs [%d:%d))\n",
			task.Data.BatchIndex+1, task.Data.BatchTotal, task.Data.InputStart, task.Data.InputEnd)
		fmt.Printf("Status:   %s\n", task.Status)
		if task.WorkerUID != "" {
			fmt.Printf("Worker:   %s\n", task.WorkerUID)
		}
		if task.Error != "" {
			fmt.Printf("Error:    %s\n", task.Error)
		}
		return nil
	},
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim WORKER_UID",
	Short: "Claim the next runnable task for a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		assignment, err := apiClient(cmd).ClaimTask(args[0])
		if errdefs.IsNoTask(err) {
			fmt.Println("No pending tasks.")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("✓ Claimed task %s (function %s)\n", assignment.TaskUID, assignment.FunctionUID)
		fmt.Printf("  Script: %s\n", assignment.ScriptPath)
		fmt.Printf("  Inputs: %v\n", assignment.Inputs)
		return nil
	},
}

var taskReportCmd = &cobra.Command{
	Use:   "report UID",
	Short: "Report the outcome of a claimed task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workerUID, _ := cmd.Flags().GetString("worker")
		failed, _ := cmd.Flags().GetBool("failed")
		errMsg, _ := cmd.Flags().GetString("error")

		task, err := apiClient(cmd).ReportTask(args[0], !failed, nil, errMsg, workerUID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Task %s is %s\n", task.UID, task.Status)
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskClaimCmd)
	taskCmd.AddCommand(taskReportCmd)

	taskReportCmd.Flags().String("worker", "", "Worker UID reporting the result")
	taskReportCmd.Flags().Bool("failed", false, "Report the task as failed")
	taskReportCmd.Flags().String("error", "", "Error message for a failed task")
}

// parseInput interprets a CLI argument as a number when possible, otherwise
// passes it through as a string
func parseInput(raw string) interface{} {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
