package script

// The R side of the harness. Every dynamic value goes through the "r"
// and "rlist" functions (Quote, QuoteAll) or is a number formatted by
// Go; nothing else is interpolated. The snippet is evaluated from a
// string with eval(parse(text = ...)) so that even a syntax error is
// caught by the handlers below and the workspace is still saved.

const preambleTemplate = `{{define "preamble"}}options(warn = 1, width = 120)
setwd({{r .DataRoot}})
{{- if .LoadSnapshot}}
if (file.exists({{r .SnapshotPath}})) load({{r .SnapshotPath}}, envir = globalenv())
{{- end}}
.harness <- new.env()
.harness$snapshot <- {{r .SnapshotPath}}
.harness$failed <- FALSE
for (.harness_pkg in c({{rlist .Packages}})) {
  tryCatch(
    suppressPackageStartupMessages(library(.harness_pkg, character.only = TRUE)),
    error = function(e) NULL
  )
}
.harness$save <- function(path) {
  force(path)
  scratch <- intersect(c(".harness", ".harness_pkg", ".Last.value"), ls(globalenv(), all.names = TRUE))
  rm(list = scratch, envir = globalenv())
  dir.create(dirname(path), recursive = TRUE, showWarnings = FALSE)
  tmp <- paste0(path, ".tmp")
  save(list = ls(globalenv(), all.names = TRUE), envir = globalenv(), file = tmp)
  invisible(file.rename(tmp, path))
}
.harness$saveDocument <- function(widget) {
  if (!requireNamespace("htmlwidgets", quietly = TRUE)) {
    cat("htmlwidgets is not installed; interactive output was dropped\n", file = stderr())
    return(invisible(NULL))
  }
  path <- {{r .DocumentPath}}
  dir.create(dirname(path), recursive = TRUE, showWarnings = FALSE)
  htmlwidgets::saveWidget(widget, path, selfcontained = nzchar(Sys.which("pandoc")))
  cat("\n", {{r .DocumentMarker}}, " ", basename(path), "\n", sep = "")
}
.harness$code <- {{r .Snippet}}
{{end}}`

const plainTemplate = `{{define "plain"}}{{template "preamble" .}}.harness$result <- tryCatch(
  withVisible(eval(parse(text = .harness$code, keep.source = FALSE), envir = globalenv())),
  error = function(e) {
    .harness$failed <- TRUE
    cat("\n", {{r .ErrorMarker}}, " ", conditionMessage(e), "\n", sep = "", file = stderr())
    NULL
  }
)
if (!.harness$failed && !is.null(.harness$result) && isTRUE(.harness$result$visible)) {
  .harness$value <- .harness$result$value
  tryCatch({
    if (inherits(.harness$value, "htmlwidget")) {
      .harness$saveDocument(.harness$value)
    } else if ({{if .FormatTabular}}TRUE{{else}}FALSE{{end}} && is.data.frame(.harness$value) &&
               requireNamespace("knitr", quietly = TRUE)) {
      print(knitr::kable(utils::head(.harness$value, {{.TableRows}}), format = "pipe"))
      if (nrow(.harness$value) > {{.TableRows}}) {
        cat(sprintf("\n... %d more rows\n", nrow(.harness$value) - {{.TableRows}}))
      }
    } else {
      print(.harness$value)
    }
  }, error = function(e) {
    .harness$failed <- TRUE
    cat("\n", {{r .ErrorMarker}}, " ", conditionMessage(e), "\n", sep = "", file = stderr())
  })
}
{{template "epilogue" .}}{{end}}`

const plotTemplate = `{{define "plot"}}{{template "preamble" .}}if (isTRUE(capabilities("cairo"))) {
  svg({{r .VectorPath}}, width = {{.PlotWidth}}, height = {{.PlotHeight}})
} else {
  png({{r .RasterPath}}, width = {{.PlotWidth}}, height = {{.PlotHeight}}, units = "in", res = 96)
}
.harness$result <- tryCatch(
  withVisible(eval(parse(text = .harness$code, keep.source = FALSE), envir = globalenv())),
  error = function(e) {
    cat("Error:", conditionMessage(e), "\n")
    NULL
  }
)
if (!is.null(.harness$result) && isTRUE(.harness$result$visible)) {
  .harness$value <- .harness$result$value
  tryCatch({
    if (inherits(.harness$value, "htmlwidget")) {
      .harness$saveDocument(.harness$value)
    } else {
      print(.harness$value)
    }
  }, error = function(e) cat("Error:", conditionMessage(e), "\n"))
}
while (dev.cur() > 1) invisible(dev.off())
{{template "epilogue" .}}{{end}}`

const epilogueTemplate = `{{define "epilogue"}}local({
  failed <- .harness$failed
  saved <- tryCatch({
    .harness$save(.harness$snapshot)
    TRUE
  }, error = function(e) {
    cat("\n", {{r .ErrorMarker}}, " saving workspace: ", conditionMessage(e), "\n", sep = "", file = stderr())
    FALSE
  })
  if (failed || !saved) quit(save = "no", status = 1)
})
{{end}}`

const introspectTemplate = `{{define "introspect"}}options(warn = -1)
setwd({{r .DataRoot}})
if (file.exists({{r .SnapshotPath}})) load({{r .SnapshotPath}}, envir = globalenv())
.harness_describe <- function(name) {
  if (!requireNamespace("jsonlite", quietly = TRUE)) {
    cat("{\"error\":\"jsonlite is not installed\"}\n")
    return(invisible(NULL))
  }
  if (!exists(name, envir = globalenv(), inherits = FALSE)) {
    cat(jsonlite::toJSON(list(exists = FALSE, variable = name), auto_unbox = TRUE), "\n")
    return(invisible(NULL))
  }
  df <- get(name, envir = globalenv())
  if (!is.data.frame(df)) df <- tryCatch(as.data.frame(df), error = function(e) NULL)
  if (is.null(df)) {
    cat(jsonlite::toJSON(list(exists = TRUE, variable = name, ncol = 0, nrow = 0), auto_unbox = TRUE), "\n")
    return(invisible(NULL))
  }
  categorical <- list()
  numericCols <- character()
  numericInfo <- list()
  for (col in names(df)) {
    x <- df[[col]]
    if (is.numeric(x)) {
      numericCols <- c(numericCols, col)
      finite <- x[is.finite(x)]
      if (length(finite) > 0) numericInfo[[col]] <- list(min = min(finite), max = max(finite))
    } else {
      values <- unique(as.character(x[!is.na(x)]))
      categorical[[col]] <- utils::head(values, {{.ValueCap}})
    }
  }
  out <- list(
    exists = TRUE,
    variable = name,
    ncol = ncol(df),
    nrow = nrow(df),
    colnames = names(df),
    categoricalInfo = categorical,
    numericCols = numericCols,
    numericInfo = numericInfo
  )
  cat(jsonlite::toJSON(out, auto_unbox = TRUE, digits = NA), "\n")
}
.harness_describe({{r .Variable}})
{{end}}`
