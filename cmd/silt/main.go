package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/siltvcs/silt/internal/model"
	"github.com/siltvcs/silt/internal/oplog"
	"github.com/siltvcs/silt/internal/refs"
	"github.com/siltvcs/silt/internal/repo"
)

const usageText = `usage: silt [-C dir] <command> [args]

commands:
  init                       create a repository in the current directory
  status                     show the working-copy commit and conflicts
  snapshot                   record filesystem changes as an operation
  watch [-interval d]        snapshot continuously as files change
  describe -m <msg> [rev]    set a commit's description
  new [parent...]            start a new empty change on top of parents
  rebase -r <rev> -d <dest>  move a commit (and descendants) onto dest
  bookmark <subcommand>      manage bookmarks (set, delete, list, track, untrack)
  resolve <path>             accept the file's on-disk content for a conflict
  restore                    rewrite the working tree from the current commit
  op log [-n count]          show the operation log
  undo [op]                  undo an operation (default: the latest)
`

func usage() {
	fmt.Fprint(os.Stderr, usageText)
	os.Exit(2)
}

func main() {
	log.SetFlags(0)

	var dir string
	flag.StringVar(&dir, "C", ".", "Run as if started in this directory")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}
	cmd, rest := args[0], args[1:]

	if cmd == "init" {
		if _, err := repo.Init(dir); err != nil {
			log.Fatalf("silt: %v", err)
		}
		abs, _ := filepath.Abs(dir)
		fmt.Printf("initialized repository in %s\n", abs)
		return
	}

	r, err := repo.Open(dir)
	if err != nil {
		log.Fatalf("silt: %v", err)
	}

	switch cmd {
	case "status":
		cmdStatus(r)
	case "snapshot":
		cmdSnapshot(r)
	case "watch":
		cmdWatch(r, rest)
	case "describe":
		cmdDescribe(r, rest)
	case "new":
		cmdNew(r, rest)
	case "rebase":
		cmdRebase(r, rest)
	case "bookmark":
		cmdBookmark(r, rest)
	case "resolve":
		cmdResolve(r, dir, rest)
	case "restore":
		cmdRestore(r)
	case "op":
		cmdOp(r, rest)
	case "undo":
		cmdUndo(r, rest)
	default:
		log.Printf("silt: unknown command %q", cmd)
		usage()
	}
}

// begin opens a transaction and snapshots the working copy into it, so every
// command operates on what is actually on disk.
func begin(r *repo.Repository) (*oplog.Transaction, model.CommitID) {
	tx, err := r.StartTransaction()
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	wcID, _, err := r.Snapshot(tx, nil)
	if err != nil {
		log.Fatalf("silt: snapshot: %v", err)
	}
	return tx, wcID
}

// finish commits the transaction and rewrites the working tree to match the
// view that resulted, which may include merged concurrent writes.
func finish(r *repo.Repository, tx *oplog.Transaction, description string) {
	if _, err := r.FinishTransaction(tx, description); err != nil {
		log.Fatalf("silt: %v", err)
	}
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func cmdStatus(r *repo.Repository) {
	tx, err := r.StartTransaction()
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	wcID, changed, err := r.Snapshot(tx, nil)
	if err != nil {
		log.Fatalf("silt: snapshot: %v", err)
	}
	if changed {
		if _, err := tx.Commit("snapshot working copy", true, nil); err != nil {
			log.Fatalf("silt: %v", err)
		}
	}
	c, err := r.Graph.ReadCommit(wcID)
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	desc := c.Description
	if desc == "" {
		desc = "(no description set)"
	}
	fmt.Printf("working copy: %s %s\n", short(wcID), desc)
	fmt.Printf("change id:    %s\n", short(c.ChangeID))

	entries, err := r.Graph.ListTree(c.Tree)
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	var conflicted []string
	for path, e := range entries {
		if e.Kind == model.KindConflict {
			conflicted = append(conflicted, path)
		}
	}
	sort.Strings(conflicted)
	for _, path := range conflicted {
		fmt.Printf("conflict:     %s\n", path)
	}
}

func cmdSnapshot(r *repo.Repository) {
	tx, err := r.StartTransaction()
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	wcID, changed, err := r.Snapshot(tx, nil)
	if err != nil {
		log.Fatalf("silt: snapshot: %v", err)
	}
	if !changed {
		fmt.Println("nothing changed")
		return
	}
	if _, err := tx.Commit("snapshot working copy", true, nil); err != nil {
		log.Fatalf("silt: %v", err)
	}
	fmt.Printf("recorded %s\n", short(wcID))
}

// cmdWatch keeps snapshotting until interrupted. With the watcher running,
// each pass only re-examines the paths fsnotify reported dirty.
func cmdWatch(r *repo.Repository, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	interval := fs.Duration("interval", 2*time.Second, "Time between snapshot passes")
	fs.Parse(args)

	if err := r.StartWatcher(); err != nil {
		log.Fatalf("silt: watch: %v", err)
	}
	defer r.StopWatcher()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tx, err := r.StartTransaction()
			if err != nil {
				log.Printf("silt: %v", err)
				continue
			}
			wcID, changed, err := r.Snapshot(tx, nil)
			if err != nil {
				log.Printf("silt: snapshot: %v", err)
				continue
			}
			if !changed {
				continue
			}
			if _, err := tx.Commit("snapshot working copy", true, nil); err != nil {
				log.Printf("silt: %v", err)
				continue
			}
			fmt.Printf("recorded %s\n", short(wcID))
		case <-stop:
			return
		}
	}
}

func cmdDescribe(r *repo.Repository, args []string) {
	fs := flag.NewFlagSet("describe", flag.ExitOnError)
	msg := fs.String("m", "", "The new description")
	fs.Parse(args)
	if *msg == "" {
		log.Fatal("silt: describe requires -m")
	}

	tx, wcID := begin(r)
	target := wcID
	if fs.NArg() > 0 {
		target = fs.Arg(0)
	}
	newID, err := r.Describe(tx, target, *msg)
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	finish(r, tx, fmt.Sprintf("describe commit %s", short(target)))
	fmt.Printf("described %s\n", short(newID))
}

func cmdNew(r *repo.Repository, args []string) {
	tx, wcID := begin(r)
	parents := args
	if len(parents) == 0 {
		parents = []model.CommitID{wcID}
	}
	id, err := r.NewChange(tx, parents, "")
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	finish(r, tx, "new empty change")
	fmt.Printf("working copy is now %s\n", short(id))
}

func cmdRebase(r *repo.Repository, args []string) {
	fs := flag.NewFlagSet("rebase", flag.ExitOnError)
	rev := fs.String("r", "", "The commit to move")
	dest := fs.String("d", "", "The new parent")
	fs.Parse(args)
	if *rev == "" || *dest == "" {
		log.Fatal("silt: rebase requires -r and -d")
	}

	tx, _ := begin(r)
	newID, err := r.Rebase(tx, *rev, []model.CommitID{*dest})
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	finish(r, tx, fmt.Sprintf("rebase commit %s onto %s", short(*rev), short(*dest)))
	fmt.Printf("rebased as %s\n", short(newID))
}

func cmdBookmark(r *repo.Repository, args []string) {
	if len(args) == 0 {
		log.Fatal("silt: bookmark requires a subcommand (set, delete, list, track, untrack)")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		view, _, err := r.CurrentView()
		if err != nil {
			log.Fatalf("silt: %v", err)
		}
		names := make([]string, 0, len(view.Refs))
		for name := range view.Refs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			t := view.Refs[name]
			if t.IsConflicted() {
				fmt.Printf("%s (conflicted): %s\n", name, strings.Join(shortAll(t.Adds), " "))
				continue
			}
			id, _ := t.Single()
			fmt.Printf("%s: %s\n", name, short(id))
		}

	case "set":
		fs := flag.NewFlagSet("bookmark set", flag.ExitOnError)
		rev := fs.String("r", "", "Target commit (default: working copy)")
		force := fs.Bool("force", false, "Overwrite a conflicted bookmark")
		fs.Parse(rest)
		if fs.NArg() != 1 {
			log.Fatal("silt: bookmark set requires a name")
		}
		name := fs.Arg(0)

		tx, wcID := begin(r)
		target := *rev
		if target == "" {
			target = wcID
		}
		if err := tx.SetRef(name, model.NormalTarget(target), *force); err != nil {
			if errors.Is(err, refs.ErrConflictedRef) {
				log.Fatalf("silt: %v (use -force to overwrite)", err)
			}
			log.Fatalf("silt: %v", err)
		}
		finish(r, tx, fmt.Sprintf("point bookmark %s to %s", name, short(target)))

	case "delete":
		fs := flag.NewFlagSet("bookmark delete", flag.ExitOnError)
		force := fs.Bool("force", false, "Delete a conflicted bookmark")
		fs.Parse(rest)
		if fs.NArg() != 1 {
			log.Fatal("silt: bookmark delete requires a name")
		}
		name := fs.Arg(0)

		tx, _ := begin(r)
		if err := tx.SetRef(name, model.AbsentTarget(), *force); err != nil {
			log.Fatalf("silt: %v", err)
		}
		finish(r, tx, fmt.Sprintf("delete bookmark %s", name))

	case "track", "untrack":
		if len(rest) != 1 || !strings.Contains(rest[0], "@") {
			log.Fatalf("silt: bookmark %s requires name@remote", sub)
		}
		parts := strings.SplitN(rest[0], "@", 2)
		name, remote := parts[0], parts[1]

		tx, _ := begin(r)
		if sub == "track" {
			refs.Track(tx.View(), remote, name)
		} else {
			refs.Untrack(tx.View(), remote, name)
		}
		finish(r, tx, fmt.Sprintf("%s bookmark %s@%s", sub, name, remote))

	default:
		log.Fatalf("silt: unknown bookmark subcommand %q", sub)
	}
}

func cmdResolve(r *repo.Repository, dir string, args []string) {
	if len(args) != 1 {
		log.Fatal("silt: resolve requires a path")
	}
	path := filepath.ToSlash(args[0])

	tx, _ := begin(r)
	content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(path)))
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	if _, err := r.ResolvePath(tx, path, content); err != nil {
		log.Fatalf("silt: %v", err)
	}
	finish(r, tx, fmt.Sprintf("resolve conflict in %s", path))
	fmt.Printf("resolved %s\n", path)
}

func cmdRestore(r *repo.Repository) {
	view, _, err := r.CurrentView()
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	if err := r.Materialize(view); err != nil {
		log.Fatalf("silt: %v", err)
	}
	fmt.Println("working tree restored")
}

func cmdOp(r *repo.Repository, args []string) {
	if len(args) == 0 || args[0] != "log" {
		log.Fatal("silt: op requires the log subcommand")
	}
	fs := flag.NewFlagSet("op log", flag.ExitOnError)
	n := fs.Int("n", 20, "Maximum entries to show")
	fs.Parse(args[1:])

	head, err := r.CurrentOperation()
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	entries, err := r.Ops.Log(head, *n)
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	for _, e := range entries {
		marker := " "
		if e.ID == head {
			marker = "@"
		}
		fmt.Printf("%s %s %s %s\n", marker, short(e.ID),
			e.Op.Meta.EndTime.Format("2006-01-02 15:04:05"), e.Op.Meta.Description)
	}
}

func cmdUndo(r *repo.Repository, args []string) {
	var target model.OperationID
	if len(args) > 0 {
		target = args[0]
	}
	opID, err := r.Undo(target)
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	view, _, err := r.CurrentView()
	if err != nil {
		log.Fatalf("silt: %v", err)
	}
	if err := r.Materialize(view); err != nil {
		log.Fatalf("silt: update working tree: %v", err)
	}
	fmt.Printf("undone; new operation %s\n", short(opID))
}

func shortAll(ids []model.CommitID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = short(id)
	}
	return out
}
