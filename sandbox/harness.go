package sandbox

// harnessSource is the fixed Python wrapper around operator scripts. It
// reads the JSON input file named in argv, exposes task_id,
// extracted_data, ocr_text and meta_info to the operator code, captures
// the final output_data (or the exception) and writes the JSON result
// file. Operator code runs in the harness namespace, so assigning
// output_data at top level is all a script has to do.
const harnessSource = `# -*- coding: utf-8 -*-
import json
import sys
import traceback


def main():
    input_path, output_path, script_path = sys.argv[1], sys.argv[2], sys.argv[3]
    with open(input_path, "r", encoding="utf-8") as f:
        payload = json.load(f)

    namespace = {
        "task_id": payload.get("task_id"),
        "extracted_data": payload.get("extracted_data"),
        "ocr_text": payload.get("ocr_text"),
        "meta_info": payload.get("meta_info"),
    }

    result = {"success": False, "output_data": None, "error_message": ""}
    try:
        with open(script_path, "r", encoding="utf-8") as f:
            code = compile(f.read(), "pipeline_script", "exec")
        exec(code, namespace)
        if "output_data" not in namespace:
            raise RuntimeError("script did not set output_data")
        result["success"] = True
        result["output_data"] = namespace["output_data"]
    except Exception:
        result["error_message"] = traceback.format_exc()

    with open(output_path, "w", encoding="utf-8") as f:
        json.dump(result, f, ensure_ascii=False)


if __name__ == "__main__":
    main()
`

// Input is the JSON payload handed to the harness.
type Input struct {
	TaskID        string                 `json:"task_id"`
	ExtractedData map[string]interface{} `json:"extracted_data"`
	OCRText       string                 `json:"ocr_text"`
	MetaInfo      map[string]interface{} `json:"meta_info"`
}

// Output is the JSON result the harness writes back.
type Output struct {
	Success      bool                   `json:"success"`
	OutputData   map[string]interface{} `json:"output_data"`
	ErrorMessage string                 `json:"error_message"`
}
