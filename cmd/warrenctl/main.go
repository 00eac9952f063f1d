package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/cuemby/warrensql/internal/storage"
	"github.com/cuemby/warrensql/internal/transport"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "warrenctl",
	Short:   "warrenctl administers a warrensql cluster",
	Version: Version,
}

func selfVersion() cluster.NodeVersion {
	return cluster.NodeVersion{Major: 1, Minor: 0, Patch: 0}
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func init() {
	closeTableCmd.Flags().String("master", "localhost:7301", "master node transport address")
	closeTableCmd.Flags().String("schema", "", "relation schema (required)")
	closeTableCmd.Flags().String("table", "", "relation table name (required)")
	_ = closeTableCmd.MarkFlagRequired("schema")
	_ = closeTableCmd.MarkFlagRequired("table")

	showRoutingCmd.Flags().String("node", "localhost:7301", "node transport address to query")

	listNodesCmd.Flags().String("node", "localhost:7301", "node transport address to query")

	repurposeNodeCmd.Flags().String("data-dir", "./data", "node's data directory")
	repurposeNodeCmd.Flags().String("role", "data", "new role: data, master-only, or neither")
	repurposeNodeCmd.Flags().StringSlice("index", nil, "index UUID to drop data for (repeatable, required for master-only/neither)")

	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	applyCmd.Flags().String("master", "localhost:7301", "master node transport address")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(closeTableCmd)
	rootCmd.AddCommand(showRoutingCmd)
	rootCmd.AddCommand(listNodesCmd)
	rootCmd.AddCommand(repurposeNodeCmd)
	rootCmd.AddCommand(applyCmd)
}

var closeTableCmd = &cobra.Command{
	Use:   "close-table",
	Short: "Close a table or partition (§4.G three-step protocol)",
	RunE: func(cmd *cobra.Command, args []string) error {
		master, _ := cmd.Flags().GetString("master")
		schema, _ := cmd.Flags().GetString("schema")
		table, _ := cmd.Flags().GetString("table")

		client := &transport.CloseTableClient{MasterAddress: master, SelfVersion: selfVersion()}
		ctx, cancel := requestContext()
		defer cancel()

		resp, err := client.CloseTable(ctx, cluster.RelationName{Schema: schema, Name: table})
		if err != nil {
			return fmt.Errorf("close-table: %w", err)
		}

		if resp.Acknowledged {
			fmt.Printf("✓ %s.%s closed\n", schema, table)
		} else {
			fmt.Printf("%s.%s close did not fully acknowledge; check node logs\n", schema, table)
		}
		return nil
	},
}

var showRoutingCmd = &cobra.Command{
	Use:   "show-routing",
	Short: "Print the routing table as seen by one node",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("node")
		state, err := fetchState(addr)
		if err != nil {
			return err
		}

		fmt.Printf("cluster version: %d\n\n", state.Version)
		for _, idx := range state.Metadata.All() {
			fmt.Printf("%s (%s) [%s]\n", idx.RelName.String(), idx.UUID, idx.State)
			table, ok := state.RoutingTable.IndexTable(idx.UUID)
			if !ok {
				fmt.Println("  (no routing table entry)")
				continue
			}
			for shardNum, shardTable := range table.Shards {
				fmt.Printf("  shard %d: primary=%s/%s", shardNum, shardTable.Primary.NodeID, shardTable.Primary.State)
				for _, r := range shardTable.Replicas {
					fmt.Printf(" replica=%s/%s", r.NodeID, r.State)
				}
				fmt.Println()
			}
		}
		return nil
	},
}

var listNodesCmd = &cobra.Command{
	Use:   "list-nodes",
	Short: "List the nodes known to the cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("node")
		state, err := fetchState(addr)
		if err != nil {
			return err
		}

		for _, n := range state.Nodes.All() {
			fmt.Printf("%-20s %-20s master-eligible=%-5v data=%-5v\n", n.ID, n.Address, n.MasterEligible, n.DataNode)
		}
		return nil
	},
}

func fetchState(addr string) (cluster.State, error) {
	client := &transport.ClusterStateClient{Address: addr, SelfVersion: selfVersion()}
	ctx, cancel := requestContext()
	defer cancel()
	return client.ClusterState(ctx)
}

var repurposeNodeCmd = &cobra.Command{
	Use:   "repurpose-node",
	Short: "Repurpose a stopped node's local data per its new role (§6)",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		roleFlag, _ := cmd.Flags().GetString("role")
		indexFlags, _ := cmd.Flags().GetStringSlice("index")

		var role storage.NodeRole
		switch roleFlag {
		case "data":
			role = storage.RoleDataNode
		case "master-only":
			role = storage.RoleMasterOnly
		case "neither":
			role = storage.RoleNeither
		default:
			return fmt.Errorf("unknown role %q (want data, master-only, or neither)", roleFlag)
		}

		indices := make([]cluster.IndexUUID, 0, len(indexFlags))
		for _, s := range indexFlags {
			id, err := uuid.Parse(s)
			if err != nil {
				return fmt.Errorf("invalid index UUID %q: %w", s, err)
			}
			indices = append(indices, id)
		}

		store, err := storage.NewBoltStore(dataDir + "/warrensql.db")
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		layout := storage.ShardLayout{DataDir: dataDir}
		if err := storage.RepurposeNode(layout, role, store, indices); err != nil {
			return fmt.Errorf("repurpose-node: %w", err)
		}

		fmt.Printf("✓ node at %s repurposed to %s\n", dataDir, roleFlag)
		return nil
	},
}

// manifest is the YAML shape cmd/warrenctl apply reads, grounded on
// the teacher's apiVersion/kind/metadata/spec envelope.
type manifest struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   manifestMetadata `yaml:"metadata"`
	Spec       manifestSpec     `yaml:"spec"`
}

type manifestMetadata struct {
	Name string `yaml:"name"`
}

type manifestSpec struct {
	Schema               string `yaml:"schema"`
	Shards               int32  `yaml:"shards"`
	Replicas             int32  `yaml:"replicas"`
	RoutingColumn        string `yaml:"routingColumn"`
	RoutingPartitioned   bool   `yaml:"routingPartitioned"`
	RoutingPartitionSize int32  `yaml:"routingPartitionSize"`
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a table manifest to the cluster",
	Long: `Apply a YAML table manifest.

Example:
  warrenctl apply -f orders.yaml --master localhost:7301

orders.yaml:
  apiVersion: warrensql/v1
  kind: Table
  metadata:
    name: orders
  spec:
    schema: shop
    shards: 6
    replicas: 1
`,
	RunE: runApply,
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	master, _ := cmd.Flags().GetString("master")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if m.Kind != "Table" {
		return fmt.Errorf("unsupported manifest kind %q", m.Kind)
	}

	shards := m.Spec.Shards
	if shards == 0 {
		shards = 1
	}
	meta := cluster.IndexMetadata{
		UUID:                 uuid.New(),
		Name:                 m.Metadata.Name,
		RelName:              cluster.RelationName{Schema: m.Spec.Schema, Name: m.Metadata.Name},
		NumberOfShards:       shards,
		NumberOfReplicas:     m.Spec.Replicas,
		RoutingNumShards:     shards,
		RoutingColumn:        m.Spec.RoutingColumn,
		RoutingPartitioned:   m.Spec.RoutingPartitioned,
		RoutingPartitionSize: m.Spec.RoutingPartitionSize,
		State:                cluster.IndexOpen,
	}

	client := &transport.PutIndexMetadataClient{MasterAddress: master, SelfVersion: selfVersion()}
	ctx, cancel := requestContext()
	defer cancel()
	if err := client.PutIndexMetadata(ctx, meta); err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	fmt.Printf("✓ table applied: %s.%s (UUID: %s, shards=%d, replicas=%d)\n",
		m.Spec.Schema, m.Metadata.Name, meta.UUID, meta.NumberOfShards, meta.NumberOfReplicas)
	return nil
}
