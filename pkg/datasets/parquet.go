package datasets

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/apache/arrow/go/v13/parquet/file"
	"github.com/apache/arrow/go/v13/parquet/pqarrow"

	"github.com/XiaoConstantine/ace-go/pkg/errors"
	"github.com/XiaoConstantine/ace-go/pkg/roles"
)

// LoadParquet reads tasks from a Parquet file, mapping the named
// string columns to question and expected answer. Benchmark exports
// like GSM8K ship in this layout.
func LoadParquet(ctx context.Context, path, questionColumn, answerColumn string) ([]roles.Task, error) {
	reader, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to open parquet file"),
			errors.Fields{"path": path})
	}
	defer reader.Close()

	arrowReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to create arrow reader")
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to read parquet schema")
	}
	questionIndices := schema.FieldIndices(questionColumn)
	answerIndices := schema.FieldIndices(answerColumn)
	if len(questionIndices) == 0 || len(answerIndices) == 0 {
		return nil, errors.WithFields(
			errors.New(errors.ValidationFailed, "required columns not found in parquet schema"),
			errors.Fields{"question_column": questionColumn, "answer_column": answerColumn})
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to read parquet table")
	}
	defer table.Release()

	questions, err := stringColumn(table.Column(questionIndices[0]).Data().Chunks())
	if err != nil {
		return nil, errors.WithFields(err, errors.Fields{"column": questionColumn})
	}
	answers, err := stringColumn(table.Column(answerIndices[0]).Data().Chunks())
	if err != nil {
		return nil, errors.WithFields(err, errors.Fields{"column": answerColumn})
	}
	if len(questions) != len(answers) {
		return nil, errors.New(errors.InvalidResponse, "question and answer columns have different lengths")
	}

	tasks := make([]roles.Task, len(questions))
	for i := range questions {
		tasks[i] = roles.Task{
			ID:       fmt.Sprintf("task-%d", i),
			Question: questions[i],
			Expected: answers[i],
		}
	}
	return tasks, nil
}

// stringColumn flattens a chunked arrow column into a string slice.
func stringColumn(chunks []arrow.Array) ([]string, error) {
	var values []string
	for _, chunk := range chunks {
		strs, ok := chunk.(*array.String)
		if !ok {
			return nil, errors.New(errors.ValidationFailed, "column is not a string column")
		}
		for i := 0; i < strs.Len(); i++ {
			values = append(values, strs.Value(i))
		}
	}
	return values, nil
}
