// Command docauth-verify recomputes audit and version chains straight from
// Postgres, independent of the running API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/db"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/kms"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/ledger"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/versions"
)

const programName = "docauth-verify"

// errBroken reports that at least one chain failed; the details are already printed.
var errBroken = errors.New("broken chain found")

type secretFlags struct {
	plain  string
	sealed string
	kmsKey string
}

func (s *secretFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.plain, "secret", os.Getenv("DOCAUTH_LEDGER_SECRET"), "ledger secret")
	cmd.Flags().StringVar(&s.sealed, "secret-enc", os.Getenv("DOCAUTH_LEDGER_SECRET_ENC"), "ledger secret sealed with --kms-key")
	cmd.Flags().StringVar(&s.kmsKey, "kms-key", os.Getenv("DOCAUTH_KMS_KEY"), "hex master key")
}

func chainCommand() *cobra.Command {
	var (
		dbURL        string
		orgID, docID string
		all          bool
		withVersions bool
		secret       secretFlags
	)
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "verify audit chains, and optionally version chains",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbURL == "" {
				return errors.New("--db is required")
			}
			if !all && (orgID == "" || docID == "") {
				return errors.New("--org and --doc are required unless --all is set")
			}
			key, err := kms.ResolveSecret(secret.plain, secret.sealed, secret.kmsKey)
			if err != nil {
				return fmt.Errorf("resolve ledger secret: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()
			pool, err := pgxpool.New(ctx, dbURL)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()

			database := db.New(pool)
			l, err := ledger.New(database.Audit, key, nil, nil, zap.NewNop())
			if err != nil {
				return err
			}
			scopes := []models.Scope{{OrgID: orgID, DocID: docID}}
			if all {
				if scopes, err = l.ScopesSince(ctx, time.Time{}); err != nil {
					return fmt.Errorf("list scopes: %w", err)
				}
			}
			v := &verifier{out: cmd.OutOrStdout(), db: database, ledger: l, versions: withVersions}
			return v.run(ctx, scopes)
		},
	}
	cmd.Flags().StringVar(&dbURL, "db", os.Getenv("DOCAUTH_DATABASE_DSN"), "Postgres connection string")
	cmd.Flags().StringVar(&orgID, "org", "", "org of the audit scope to verify")
	cmd.Flags().StringVar(&docID, "doc", "", "document of the audit scope to verify")
	cmd.Flags().BoolVar(&all, "all", false, "verify every audit scope")
	cmd.Flags().BoolVar(&withVersions, "versions", false, "also verify each document's version chain")
	secret.register(cmd)
	return cmd
}

func sealCommand() *cobra.Command {
	var secret secretFlags
	cmd := &cobra.Command{
		Use:   "seal",
		Short: "print --secret sealed with --kms-key, for ledger.secret_enc",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret.plain == "" {
				return errors.New("--secret is required")
			}
			enc, err := kms.New(secret.kmsKey)
			if err != nil {
				return err
			}
			out, err := enc.Encrypt(secret.plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	secret.register(cmd)
	return cmd
}

type verifier struct {
	out      io.Writer
	db       *db.DB
	ledger   *ledger.Ledger
	versions bool
}

func (v *verifier) run(ctx context.Context, scopes []models.Scope) error {
	broken := 0
	seenDocs := make(map[string]bool)
	for _, scope := range scopes {
		report, err := v.ledger.VerifyChain(ctx, scope.OrgID, scope.DocID)
		if err != nil {
			return fmt.Errorf("verify %s/%s: %w", scope.OrgID, scope.DocID, err)
		}
		if !v.printLedger(report) {
			broken++
		}
		if v.versions && !seenDocs[scope.DocID] {
			seenDocs[scope.DocID] = true
			ok, err := v.verifyVersions(ctx, scope.DocID)
			if err != nil {
				return fmt.Errorf("verify versions of %s: %w", scope.DocID, err)
			}
			if !ok {
				broken++
			}
		}
	}

	fmt.Fprintf(v.out, "\nChecked %d scope(s), %d broken chain(s).\n", len(scopes), broken)
	if broken > 0 {
		return errBroken
	}
	return nil
}

func (v *verifier) printLedger(r *ledger.ChainReport) bool {
	if r.Valid {
		fmt.Fprintf(v.out, "OK      ledger %s/%s (%d entries)\n", r.OrgID, r.DocID, r.TotalEntries)
		return true
	}
	fmt.Fprintf(v.out, "BROKEN  ledger %s/%s (%d entries)\n", r.OrgID, r.DocID, r.TotalEntries)
	v.printIssues(r.Issues)
	return false
}

func (v *verifier) verifyVersions(ctx context.Context, docID string) (bool, error) {
	doc, err := v.db.Documents.GetDocument(ctx, docID)
	if err != nil {
		return false, err
	}
	list, err := v.db.Documents.ListVersions(ctx, docID)
	if err != nil {
		return false, err
	}
	r := versions.CheckChain(doc, list)
	if r.Valid {
		fmt.Fprintf(v.out, "OK      versions %s (%d versions)\n", docID, r.TotalVersions)
		return true, nil
	}
	fmt.Fprintf(v.out, "BROKEN  versions %s (%d versions)\n", docID, r.TotalVersions)
	v.printIssues(r.Issues)
	return false, nil
}

func (v *verifier) printIssues(issues []models.ChainIssue) {
	for _, is := range issues {
		fmt.Fprintf(v.out, "        at %d: %s\n", is.LogID, is.Message)
		if is.Expected != "" || is.Actual != "" {
			fmt.Fprintf(v.out, "          expected %s\n          actual   %s\n", is.Expected, is.Actual)
		}
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "offline verification of docauth hash chains",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(chainCommand())
	rootCmd.AddCommand(sealCommand())

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errBroken) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		}
		os.Exit(1)
	}
}
