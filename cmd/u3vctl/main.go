package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/u3vlog/internal/analyzer"
	"example.com/u3vlog/internal/common"
	"example.com/u3vlog/internal/config"
	"example.com/u3vlog/internal/manifest"
	"example.com/u3vlog/internal/report"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	switch cmd {
	case "analyze":
		analyzeCmd(os.Args[2:])
	case "report":
		reportCmd(os.Args[2:])
	case "manifest":
		manifestCmd(os.Args[2:])
	case "verify-signature":
		verifySignatureCmd(os.Args[2:])
	case "version":
		fmt.Printf("u3vctl %s (built %s)\n", version, buildDate)
	case "help", "-h", "--help":
		usage()
	default:
		if strings.HasPrefix(cmd, "-") {
			usage()
			os.Exit(1)
		}
		analyzeCmd(os.Args[1:])
	}
}

func usage() {
	fmt.Printf(`u3vctl %s (built %s) <command> [options]

Commands:
  <log.txt>         analyze a capture log with default settings
  analyze  [--config <u3vlog.yaml>] [--out-dir <dir>] [--result <file>] [--diagnostics <file.ndjson>]
           [--acceptance <file.json>] [--pdf <file.pdf>] [--manifest <file.json>] [--sign-key <key.pem>]
           [--progress] [--quiet] <log.txt>
  report   --acceptance <acceptance.json> --pdf <out.pdf> [--result <result.txt>]
  manifest --inputs <comma-separated> --out <manifest.json> [--input <log.txt>] [--sign --key <key.pem> --jws-out <file>]
  verify-signature --manifest <manifest.json> --jws <signature.jws> --cert <cert.pem|pub.pem>
  version
`, version, buildDate)
}

// analyzeOptions holds the analyze flags that are not part of the YAML
// configuration.
type analyzeOptions struct {
	input       string
	resultPath  string
	diagPath    string
	accPath     string
	pdfPath     string
	manifestOut string
	signKey     string
	progress    bool
	quiet       bool
}

func analyzeCmd(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML configuration file")
	outDir := fs.String("out-dir", "", "directory receiving reassembled frames (overrides config)")
	resultPath := fs.String("result", "", "result text file (default: <log>"+config.DefaultResultSuffix+")")
	diagPath := fs.String("diagnostics", "", "write diagnostics NDJSON")
	accPath := fs.String("acceptance", "", "write acceptance JSON")
	pdfPath := fs.String("pdf", "", "write PDF report")
	manifestOut := fs.String("manifest", "", "write SHA-256 manifest of all outputs")
	signKey := fs.String("sign-key", "", "PEM RSA key used to sign the manifest")
	maxModules := fs.Int("max-modules", 0, "module ceiling (overrides config)")
	maxLines := fs.Int("max-module-lines", 0, "lines per module ceiling (overrides config)")
	progress := fs.Bool("progress", false, "print progress on stderr")
	quiet := fs.Bool("quiet", false, "do not echo the result text to stdout")
	fs.Usage = usage
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Println("Missing parameter: expected exactly one capture log, e.g. \"u3vctl capture.txt\"")
		os.Exit(1)
	}

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Println("load config:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *maxModules > 0 {
		cfg.MaxModules = *maxModules
	}
	if *maxLines > 0 {
		cfg.MaxModuleLines = *maxLines
	}

	res, err := analyzeWithLogs(cfg, analyzeOptions{
		input:       fs.Arg(0),
		resultPath:  *resultPath,
		diagPath:    *diagPath,
		accPath:     *accPath,
		pdfPath:     *pdfPath,
		manifestOut: *manifestOut,
		signKey:     *signKey,
		progress:    *progress,
		quiet:       *quiet,
	}, os.Stdout)
	if res != nil {
		res.PrintSummary(os.Stderr)
	}
	if err != nil {
		os.Exit(1)
	}
}

// analyzeWithLogs runs runAnalyze with the rotating process log enabled when
// the configuration names a log directory. The log file is closed and the
// process log detached from it before returning, on failure too.
func analyzeWithLogs(cfg config.Config, opts analyzeOptions, stdout io.Writer) (*analyzer.Result, error) {
	if cfg.Logs.Directory != "" {
		closer, err := common.SetupLogging(cfg.LogOptions())
		if err != nil {
			fmt.Println("setup logging:", err)
			return nil, err
		}
		defer func() {
			common.SetLogOutput(os.Stderr)
			closer.Close()
		}()
	}
	res, err := runAnalyze(cfg, opts, stdout)
	if err != nil {
		common.Logf("analyze %s: %v", opts.input, err)
	}
	return res, err
}

// runAnalyze performs one analysis run and writes the requested artifacts.
func runAnalyze(cfg config.Config, opts analyzeOptions, stdout io.Writer) (*analyzer.Result, error) {
	resultPath := opts.resultPath
	if resultPath == "" {
		resultPath = cfg.ResultPath(opts.input)
	}
	if _, err := os.Stat(opts.input); err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}

	var echo io.Writer
	if !opts.quiet {
		echo = stdout
	}
	sink, err := common.CreateFileSink(resultPath, echo)
	if err != nil {
		return nil, err
	}

	metrics := common.NewMetrics()
	stop := func() {}
	if opts.progress {
		stop = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}
	aopts := analyzer.OptionsFromConfig(cfg)
	aopts.Metrics = metrics

	common.Logf("analyzing %s -> %s (frames under %s)", opts.input, resultPath, cfg.OutputDir)
	res, runErr := analyzer.AnalyzeFile(opts.input, sink, aopts)
	stop()
	if err := sink.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("write result: %w", err)
	}
	if res == nil {
		return nil, runErr
	}

	snap := metrics.Snapshot()
	common.Logf("processed %s in %s (%.2f MiB/s): %d modules, %d frames, %d errors",
		common.FormatBytes(snap.Bytes), snap.Duration.Round(time.Millisecond), snap.ThroughputMiB(), snap.Modules, snap.Frames, snap.Errors)

	if err := writeArtifacts(res, resultPath, opts); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			common.Logf("artifacts: %v", err)
		}
	}
	return res, runErr
}

func writeArtifacts(res *analyzer.Result, resultPath string, opts analyzeOptions) error {
	outputs := []string{resultPath}
	if opts.diagPath != "" {
		if err := res.WriteDiagnosticsNDJSON(opts.diagPath); err != nil {
			return fmt.Errorf("write diagnostics: %w", err)
		}
		outputs = append(outputs, opts.diagPath)
		common.Logf("wrote %s", opts.diagPath)
	}
	acc := res.MakeAcceptance()
	if opts.accPath != "" {
		if err := report.SaveAcceptanceJSON(acc, opts.accPath); err != nil {
			return fmt.Errorf("write acceptance: %w", err)
		}
		outputs = append(outputs, opts.accPath)
		common.Logf("wrote %s", opts.accPath)
	}
	if opts.pdfPath != "" {
		digest, _, err := common.Sha256OfFile(resultPath)
		if err != nil {
			return fmt.Errorf("hash result: %w", err)
		}
		if err := report.SaveAcceptancePDF(acc, opts.pdfPath, report.PDFOptions{ResultDigest: digest, MaxFindings: 200}); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
		outputs = append(outputs, opts.pdfPath)
		common.Logf("wrote %s", opts.pdfPath)
	}
	if opts.manifestOut == "" {
		return nil
	}
	outputs = append(outputs, res.ImagePaths()...)
	m, err := manifest.Build(opts.input, outputs)
	if err != nil {
		return fmt.Errorf("manifest build: %w", err)
	}
	if opts.signKey != "" {
		key, err := os.ReadFile(opts.signKey)
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		sigOut := jwsPathFor(opts.manifestOut)
		if err := manifest.SaveSigned(m, opts.manifestOut, sigOut, key); err != nil {
			return err
		}
		common.Logf("wrote %s and %s", opts.manifestOut, sigOut)
		return nil
	}
	if err := manifest.Save(m, opts.manifestOut); err != nil {
		return fmt.Errorf("manifest save: %w", err)
	}
	common.Logf("wrote %s", opts.manifestOut)
	return nil
}

func jwsPathFor(out string) string {
	ext := filepath.Ext(out)
	if ext != "" {
		return out[:len(out)-len(ext)] + ".jws"
	}
	return out + ".jws"
}

func reportCmd(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	accPath := fs.String("acceptance", "", "acceptance JSON written by analyze")
	pdfPath := fs.String("pdf", "", "output PDF")
	resultPath := fs.String("result", "", "result text file whose digest is printed in the report")
	fs.Parse(args)
	if *accPath == "" || *pdfPath == "" {
		fmt.Println("required: --acceptance, --pdf")
		os.Exit(1)
	}
	rep, err := report.LoadAcceptanceJSON(*accPath)
	if err != nil {
		fmt.Println("load acceptance:", err)
		os.Exit(1)
	}
	var opts report.PDFOptions
	if *resultPath != "" {
		digest, _, err := common.Sha256OfFile(*resultPath)
		if err != nil {
			fmt.Println("hash result:", err)
			os.Exit(1)
		}
		opts.ResultDigest = digest
	}
	if err := report.SaveAcceptancePDF(rep, *pdfPath, opts); err != nil {
		fmt.Println("write pdf:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote PDF:", *pdfPath)
}

func manifestCmd(args []string) {
	fs := flag.NewFlagSet("manifest", flag.ExitOnError)
	inputs := fs.String("inputs", "", "comma-separated paths")
	input := fs.String("input", "", "capture log the artifacts were produced from")
	out := fs.String("out", "manifest.json", "output json")
	sign := fs.Bool("sign", false, "sign manifest (detached JWS over JSON)")
	keyPath := fs.String("key", "", "PEM RSA private key (requires --sign)")
	jwsOut := fs.String("jws-out", "", "output JWS file (defaults to manifest path with .jws)")
	fs.Parse(args)

	var paths []string
	for _, p := range strings.Split(*inputs, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		fmt.Println("required: --inputs")
		os.Exit(1)
	}
	m, err := manifest.Build(*input, paths)
	if err != nil {
		fmt.Println("manifest build:", err)
		os.Exit(1)
	}
	if !*sign {
		if err := manifest.Save(m, *out); err != nil {
			fmt.Println("manifest save:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote", *out)
		return
	}
	if *keyPath == "" {
		fmt.Println("--sign requires --key")
		os.Exit(1)
	}
	key, err := os.ReadFile(*keyPath)
	if err != nil {
		fmt.Println("read key:", err)
		os.Exit(1)
	}
	sigPath := *jwsOut
	if sigPath == "" {
		sigPath = jwsPathFor(*out)
	}
	if err := manifest.SaveSigned(m, *out, sigPath, key); err != nil {
		fmt.Println("manifest sign:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote", *out)
	fmt.Println("Wrote signature", sigPath)
}

func verifySignatureCmd(args []string) {
	fs := flag.NewFlagSet("verify-signature", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "manifest JSON file")
	jwsPath := fs.String("jws", "", "manifest JWS signature file")
	certPath := fs.String("cert", "", "signer certificate or public key (PEM)")
	fs.Parse(args)

	if *manifestPath == "" || *jwsPath == "" || *certPath == "" {
		fmt.Println("required: --manifest, --jws, --cert")
		os.Exit(1)
	}
	if err := verifySignature(*manifestPath, *jwsPath, *certPath); err != nil {
		fmt.Println("verify signature:", err)
		os.Exit(1)
	}
	fmt.Println("Signature OK")
}

func verifySignature(manifestPath, jwsPath, certPath string) error {
	payload, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	jwsBytes, err := os.ReadFile(jwsPath)
	if err != nil {
		return err
	}
	certBytes, err := os.ReadFile(certPath)
	if err != nil {
		return err
	}
	var sig manifest.JWS
	if err := json.Unmarshal(jwsBytes, &sig); err != nil {
		return fmt.Errorf("parse jws: %w", err)
	}
	if err := manifest.VerifyDetached(payload, sig, certBytes); err != nil {
		if errors.Is(err, manifest.ErrSignature) {
			return err
		}
		return fmt.Errorf("load key: %w", err)
	}
	return nil
}
