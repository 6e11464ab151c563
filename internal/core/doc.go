// Package core runs import jobs on top of the importer engine.
//
// This package holds the domain logic independent of any transport. It can
// be used by the HTTP server, the CLI, or tests without modification.
//
// # Kinds
//
// Every importable file type is a kind registered at init time with
// [Register]. A [KindDefinition] names the expected columns and builds the
// row pipeline for each job:
//
//	core.Register(core.KindDefinition{
//	    Info:    core.KindInfo{Key: "contacts", Group: "helpdesk", Label: "Contacts"},
//	    Columns: []importer.Column{{Name: "Address", Type: importer.TypeString, Required: true}},
//	    NewPipeline: func(deps core.Deps) core.Pipeline { ... },
//	})
//
// # Jobs
//
//  1. A caller reads a file into an importer.Table and calls [Service.StartImport]
//  2. The service takes a slot from the [JobLimiter] and runs one Importer
//  3. Progress is broadcast to [Service.SubscribeProgress] listeners and to
//     observers added with [Service.AddObserver]
//  4. [Service.GetImportResult] returns the outcome, including failed rows
//
// Finished jobs stay queryable for Options.RetainResults. When a
// [RunRecorder] is configured, every job is also written to the run history.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// User facing texts of the engine and of the kinds come from a [Catalogue]
// that can be overridden with a YAML file.
package core
