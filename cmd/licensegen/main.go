package main

import (
	"fmt"
	"os"
	"strings"

	"updater-controlplane/pkg/config"
	"updater-controlplane/services/license"

	"github.com/spf13/cobra"
)

var (
	tier      string
	expiry    string
	features  []string
	verifyKey string
	secret    string

	rootCmd = &cobra.Command{
		Use:          "licensegen",
		Short:        "Issue and verify updater license keys",
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	rootCmd.Flags().StringVarP(&tier, "tier", "t", string(license.TierPro), "license tier: BASIC, PRO or ENTERPRISE")
	rootCmd.Flags().StringVarP(&expiry, "expiry", "e", license.Lifetime, "expiry date as YYYYMMDD, or LIFETIME")
	rootCmd.Flags().StringSliceVarP(&features, "features", "f", []string{license.FeatureUpdate}, "feature codes, e.g. UPD,SUP,API")
	rootCmd.Flags().StringVar(&verifyKey, "verify", "", "decode and verify an existing key instead of issuing one")
	rootCmd.Flags().StringVar(&secret, "secret", "", "signing secret, overrides LICENSE_SECRET")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if secret != "" {
		cfg.License.Secret = secret
	}
	if cfg.License.Secret == "" {
		return fmt.Errorf("LICENSE_SECRET is not set")
	}

	codec := license.NewCodec(cfg.License.Product, cfg.License.Secret)
	out := cmd.OutOrStdout()

	if verifyKey != "" {
		key, err := codec.Decode(verifyKey)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "product:  %s\n", key.Product)
		fmt.Fprintf(out, "tier:     %s\n", key.Tier)
		fmt.Fprintf(out, "expiry:   %s\n", key.Expiry)
		fmt.Fprintf(out, "features: %s\n", strings.Join(key.Features, ", "))
		return nil
	}

	key, err := codec.Encode(license.Tier(strings.ToUpper(tier)), strings.ToUpper(expiry), normalizeFeatures(features))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, key)
	return nil
}

func normalizeFeatures(in []string) []string {
	out := make([]string, 0, len(in))
	for _, f := range in {
		if f = strings.ToUpper(strings.TrimSpace(f)); f != "" {
			out = append(out, f)
		}
	}
	return out
}
