package shopload

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	. "github.com/dave/jennifer/jen"
	"github.com/iancoleman/strcase"
	"gopkg.in/yaml.v2"
)

const (
	runConfigsDir          = "run_configs"
	myLibPackageName       = "shopload"
	myLibPackageImportPath = "github.com/skudasov/shopload"
)

type LabelKV struct {
	Label     string
	LabelName string
}

func NewLabelName(label string) string {
	return strcase.ToCamel(label + "Label")
}

func NewPathName(label string) string {
	return strcase.ToCamel(label + "Path")
}

func NewAttackerStructName(label string) string {
	return strcase.ToCamel(label + "Attack")
}

// CollectLabelKVs read all labels in labels.go of load scripts dir, missing file means no labels yet
func CollectLabelKVs(dir string) ([]LabelKV, error) {
	labels, err := CollectLabels(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []LabelKV{}, nil
	}
	if err != nil {
		return nil, err
	}
	kvs := make([]LabelKV, 0, len(labels))
	for _, l := range labels {
		kvs = append(kvs, LabelKV{Label: l, LabelName: NewLabelName(l)})
	}
	return kvs, nil
}

func packageNameOf(dir string) string {
	return strings.Replace(filepath.Base(dir), "-", "_", -1)
}

// CodegenAttackersFile generates attacker factory code for every label it found in labels.go,
// struct will be camelcased with Attack suffix:
//
//	func AttackerFromName(name string) (shopload.Attack, error) {
//		switch name {
//		case "fruit":
//			return shopload.WithMonitor(shopload.WithCSVMonitor(new(FruitAttack))), nil
//		default:
//			return nil, fmt.Errorf("unknown attacker type: %s", name)
//		}
//	}
func CodegenAttackersFile(dir string, labels []LabelKV) error {
	cases := make([]Code, 0)
	for _, l := range labels {
		cases = append(cases, Case(Lit(l.Label)).Block(
			Return(
				Qual(myLibPackageImportPath, "WithMonitor").Call(
					Qual(myLibPackageImportPath, "WithCSVMonitor").Call(Id("new").Call(Id(NewAttackerStructName(l.Label)))),
				),
				Nil(),
			),
		))
	}
	cases = append(cases, Default().Block(
		Return(Nil(), Qual("fmt", "Errorf").Call(Lit("unknown attacker type: %s"), Id("name"))),
	))

	f := NewFile(packageNameOf(dir))
	f.ImportName(myLibPackageImportPath, myLibPackageName)
	f.Comment("AttackerFromName returns monitored attack prototype for a handle name")
	f.Func().Id("AttackerFromName").Params(
		Id("name").String(),
	).Params(Qual(myLibPackageImportPath, "Attack"), Error()).Block(
		Switch(Id("name")).Block(cases...),
	)
	return f.Save(filepath.Join(dir, "attackers.go"))
}

// CodegenChecksFile generates runtime checks factory, handles use stop_if checks from config unless a case is added
func CodegenChecksFile(dir string) error {
	f := NewFile(packageNameOf(dir))
	f.ImportName(myLibPackageImportPath, myLibPackageName)
	f.Comment("CheckFromName returns custom runtime check for a handle name, nil means stop_if config is used")
	f.Func().Id("CheckFromName").Params(
		Id("name").String(),
	).Qual(myLibPackageImportPath, "RuntimeCheckFunc").Block(
		Switch(Id("name")).Block(
			Default().Block(Return(Nil())),
		),
	)
	return f.Save(filepath.Join(dir, "checks.go"))
}

// CodegenLabelsFile generate labels file with one const declaration:
//
//	const (
//		FruitLabel = "fruit"
//	)
func CodegenLabelsFile(dir string, labels []LabelKV) error {
	f := NewFile(packageNameOf(dir))
	statements := make([]Code, 0)
	for _, kv := range labels {
		statements = append(statements, Id(kv.LabelName).Op("=").Lit(kv.Label))
	}
	f.Const().Defs(statements...)
	return f.Save(filepath.Join(dir, "labels.go"))
}

// CodegenAttackerFile generates a task issuing one GET to path relative to the generator target:
//
//	type FruitAttack struct {
//		shopload.WithRunner
//		session *shopload.HTTPSession
//	}
//
//	func (a *FruitAttack) Do(ctx context.Context) shopload.DoResult {
//		return a.session.Get(ctx, FruitLabel, FruitPath)
//	}
func CodegenAttackerFile(dir string, label string, urlPath string) error {
	structName := NewAttackerStructName(label)
	labelName := NewLabelName(label)
	pathName := NewPathName(label)
	f := NewFile(packageNameOf(dir))
	f.ImportName(myLibPackageImportPath, myLibPackageName)

	f.Const().Id(pathName).Op("=").Lit(urlPath)

	f.Type().Id(structName).Struct(
		Qual(myLibPackageImportPath, "WithRunner"),
		Id("session").Op("*").Qual(myLibPackageImportPath, "HTTPSession"),
	)

	f.Func().Params(
		Id("a").Op("*").Id(structName),
	).Id("Setup").Params(
		Id("hc").Qual(myLibPackageImportPath, "RunnerConfig"),
	).Error().Block(
		List(Id("s"), Err()).Op(":=").Id("a").Dot("NewSession").Call(),
		If(Err().Op("!=").Nil()).Block(Return(Err())),
		Id("a").Dot("session").Op("=").Id("s"),
		Return(Nil()),
	)

	f.Func().Params(
		Id("a").Op("*").Id(structName),
	).Id("Do").Params(
		Id("ctx").Qual("context", "Context"),
	).Qual(myLibPackageImportPath, "DoResult").Block(
		Return(Id("a").Dot("session").Dot("Get").Call(Id("ctx"), Id(labelName), Id(pathName))),
	)

	f.Func().Params(
		Id("a").Op("*").Id(structName),
	).Id("Clone").Params(
		Id("r").Op("*").Qual(myLibPackageImportPath, "Runner"),
	).Qual(myLibPackageImportPath, "Attack").Block(
		Return(
			Op("&").Id(structName).Values(Dict{
				Id("WithRunner"): Qual(myLibPackageImportPath, "WithRunner").Values(Dict{
					Id("R"): Id("r"),
				}),
			}),
		),
	)
	return f.Save(filepath.Join(dir, label+"_attack.go"))
}

// CodegenMainFile generates loadtest entry point if it does not exist yet:
//
//	func main() {
//		shopload.Run(load.AttackerFromName, load.CheckFromName, nil, nil)
//	}
func CodegenMainFile(dir string, rootPackageName string) error {
	targetDir := filepath.Join(dir, "cmd", "load")
	mainPath := filepath.Join(targetDir, "main.go")
	if _, err := os.Stat(mainPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(targetDir, os.ModePerm); err != nil {
		return err
	}
	pkg := packageNameOf(dir)
	loadTestPackageImportPath := rootPackageName + "/" + filepath.ToSlash(dir)

	f := NewFile("main")
	f.ImportName(myLibPackageImportPath, myLibPackageName)
	f.ImportName(loadTestPackageImportPath, pkg)
	f.Func().Id("main").Params().Block(
		Qual(myLibPackageImportPath, "Run").Call(
			Qual(loadTestPackageImportPath, "AttackerFromName"),
			Qual(loadTestPackageImportPath, "CheckFromName"),
			Nil(),
			Nil(),
		),
	)
	return f.Save(mainPath)
}

// GenerateSingleRunConfig generates closed mode config running one user for debug
func GenerateSingleRunConfig(dir string, label string) error {
	runCfgPath := filepath.Join(dir, runConfigsDir)
	if err := os.MkdirAll(runCfgPath, os.ModePerm); err != nil {
		return err
	}
	suiteCfg := &SuiteConfig{
		DumpTransport: true,
		HttpTimeout:   defaultHTTPTimeoutSec,
		Steps: []Step{
			{
				Name:          "load",
				ExecutionMode: SequenceMode,
				Handles: []RunnerConfig{
					{
						HandleName:   label,
						SystemMode:   ClosedWorldSystem,
						Users:        1,
						SpawnRate:    1,
						Iterations:   10,
						DoTimeoutSec: defaultDoTimeoutSec,
						Verbose:      true,
					},
				},
			},
		},
	}
	cfg, err := yaml.Marshal(suiteCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal single run config: %w", err)
	}
	if err := ioutil.WriteFile(filepath.Join(runCfgPath, label+".yaml"), cfg, 0644); err != nil {
		return fmt.Errorf("failed to write single run config for label %s: %w", label, err)
	}
	return nil
}
