// Command examctl is the operator tool: it creates accounts, imports exams
// from YAML files and prints exam results.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mind-engage/mindengage-exams/internal/auth"
	"github.com/mind-engage/mindengage-exams/internal/config"
	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/ledger"
	"github.com/mind-engage/mindengage-exams/internal/proctor"
	"github.com/mind-engage/mindengage-exams/internal/syncx"
)

const usage = `usage: examctl [-config file] <command> [flags]

commands:
  useradd  -username NAME -role student|teacher|admin -password PW
  import   -file exam.yaml [-by USER]
  results  -exam ID
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "examctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("examctl", flag.ContinueOnError)
	configPath := global.String("config", "", "YAML config file")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if db.Driver(cfg.DBDriver) == db.DriverMemory {
		return errors.New("examctl needs a persistent DB_DRIVER (sqlite or postgres)")
	}
	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		return err
	}
	defer dbh.Close()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	svc := proctor.NewService(exam.NewSQLStore(dbh), ledger.NewSQLStore(dbh), syncx.NewEventRepo(dbh, "examctl"), log)
	users := auth.NewDirectory(auth.NewSQLStore(dbh))

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "useradd":
		return userAdd(ctx, users, rest, out)
	case "import":
		return importExam(ctx, svc, rest, out)
	case "results":
		return results(ctx, svc, rest, out)
	default:
		global.Usage()
		return errors.Errorf("unknown command %q", cmd)
	}
}

func userAdd(ctx context.Context, users *auth.Directory, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("useradd", flag.ContinueOnError)
	username := fs.String("username", "", "login name")
	role := fs.String("role", "student", "student|teacher|admin")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	u, err := users.Add(ctx, *username, *role, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created %s (%s) id=%s\n", u.Username, u.Role, u.ID)
	return nil
}

func importExam(ctx context.Context, svc *proctor.Service, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	file := fs.String("file", "", "exam YAML file")
	by := fs.String("by", "examctl", "recorded as the exam author")
	if err := fs.Parse(args); err != nil {
		return err
	}
	f, err := os.Open(*file)
	if err != nil {
		return errors.Wrap(err, "open exam file")
	}
	defer f.Close()
	e, err := decodeExam(f)
	if err != nil {
		return err
	}
	created, err := svc.CreateExam(ctx, e, *by, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %q id=%s questions=%d\n", created.Title, created.ID, len(created.Questions))
	return nil
}

// decodeExam reads one exam document. Unknown keys are rejected so typos do
// not silently drop settings.
func decodeExam(r io.Reader) (exam.Exam, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var e exam.Exam
	if err := dec.Decode(&e); err != nil {
		return exam.Exam{}, errors.Wrap(exam.ErrInvalidInput, "decode exam yaml: "+err.Error())
	}
	for i, q := range e.Questions {
		if _, err := exam.ParseLabel(string(q.Correct)); err != nil {
			return exam.Exam{}, errors.Wrapf(err, "question %d", i+1)
		}
	}
	return e, nil
}

func results(ctx context.Context, svc *proctor.Service, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("results", flag.ContinueOnError)
	examID := fs.String("exam", "", "exam id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sum, err := svc.Results(ctx, *examID)
	if err != nil {
		return err
	}
	printSummary(out, sum)
	return nil
}

func printSummary(out io.Writer, sum proctor.Summary) {
	fmt.Fprintf(out, "%s (%s): %d questions, %d attempts, average %.2f%%, best %.2f%%\n",
		sum.Title, sum.ExamID, sum.QuestionCount, sum.AttemptCount, sum.AveragePercentage, sum.BestPercentage)
	if len(sum.Attempts) == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tCORRECT\tTOTAL\tPERCENT\tTIME\tSUBMITTED")
	for _, a := range sum.Attempts {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%dm%02ds\t%s\n", a.UserID, a.CorrectCount, a.TotalQuestions,
			a.Percentage, a.ElapsedSeconds/60, a.ElapsedSeconds%60, a.SubmittedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}
