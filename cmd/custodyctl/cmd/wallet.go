package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/obverse/obverse/internal/wallet"
)

var (
	walletID string
	address  string
)

var rotateCmd = &cobra.Command{
	Use:   "rotate-key",
	Short: "Re-encrypt a wallet key under the current master secret",
	Long: `rotate-key decrypts the wallet key with the secret it was sealed under and
stores it again under CUSTODY_MASTER_SECRET, recording CUSTODY_MASTER_SECRET_ID
on the wallet. Earlier secrets are read from CUSTODY_RETIRED_MASTER_SECRETS as
id=secret pairs, so wallets that have not been rotated yet keep signing.
A fresh salt is generated for every rotation.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		w, err := a.svc.Wallets.Rotate(cmd.Context(), walletID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rotated %s (%s) to secret %s at %s\n", w.ID, w.Address, w.SecretID, w.UpdatedAt.Format(time.RFC3339))
		return nil
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Stop a wallet from signing any further swaps",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.svc.Wallets.Deactivate(cmd.Context(), walletID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", walletID)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the public fields of a wallet",
	PreRunE: func(_ *cobra.Command, _ []string) error {
		if (walletID == "") == (address == "") {
			return fmt.Errorf("exactly one of --wallet or --address is required")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		var w wallet.Wallet
		if walletID != "" {
			w, err = a.svc.Wallets.Get(cmd.Context(), walletID)
		} else {
			w, err = a.svc.Wallets.GetByAddress(cmd.Context(), address)
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(wallet.ToResponse(w))
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that a wallet key still decrypts under the loaded master secrets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.svc.Wallets.Verify(cmd.Context(), walletID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: key material ok\n", walletID)
		return nil
	},
}

func init() {
	rotateCmd.Flags().StringVar(&walletID, "wallet", "", "wallet id")
	_ = rotateCmd.MarkFlagRequired("wallet")

	deactivateCmd.Flags().StringVar(&walletID, "wallet", "", "wallet id")
	_ = deactivateCmd.MarkFlagRequired("wallet")

	showCmd.Flags().StringVar(&walletID, "wallet", "", "wallet id")
	showCmd.Flags().StringVar(&address, "address", "", "wallet address")

	verifyCmd.Flags().StringVar(&walletID, "wallet", "", "wallet id")
	_ = verifyCmd.MarkFlagRequired("wallet")
}
